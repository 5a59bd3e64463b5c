package model

// Presence is the transient online flag returned by the presence endpoint.
type Presence struct {
	Username string `json:"username"`
	Online   bool   `json:"online"`
}
