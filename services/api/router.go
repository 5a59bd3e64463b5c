package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/networkserver/internal/config"
	"github.com/networkserver/internal/handler"
	"github.com/networkserver/internal/middleware"
	"github.com/networkserver/internal/repository"
	"github.com/networkserver/internal/storage"
	"github.com/networkserver/internal/ws"
)

const apiRatePerMinute = 120

type routerDeps struct {
	cfg   *config.Config
	store *repository.Store
	cache storage.PresenceCache
	hub   *ws.Hub
	auth  ws.Authenticator
	// pushKeys == nil: сервис пушей не настроен.
	pushKeys handler.PublicKeySource
}

func newRouter(d routerDeps) http.Handler {
	msgH := handler.NewMessageHandler(d.store, d.hub)
	readH := handler.NewReadHandler(d.hub)
	communityH := handler.NewCommunityHandler(d.store, d.hub)
	presenceH := handler.NewPresenceHandler(d.cache)
	configH := handler.NewConfigHandler(d.pushKeys)
	wsH := handler.NewWSHandler(d.hub, d.auth, d.cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	r.Use(compressExceptUpgrade)
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.cfg.CORSOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", handler.Health(d.hub))
	r.Get("/api/config/push", configH.GetPushConfig)
	// Токен проверяется в самом обработчике до апгрейда (заголовок или ?token=).
	r.Get("/ws", wsH.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(d.auth))
		r.Use(middleware.RateLimit(apiRatePerMinute, time.Minute))

		r.Route("/api/chats/{chatId}", func(r chi.Router) {
			r.Post("/messages", msgH.SendChatMessage)
			r.Patch("/messages/{messageId}", msgH.EditChatMessage)
			r.Delete("/messages/{messageId}", msgH.DeleteChatMessage)
			r.Post("/members", communityH.AddChatMembers)
			r.Post("/read", readH.MarkChatRead)
			r.Post("/leave", communityH.LeaveChat)
		})
		r.Route("/api/communities/{communityId}", func(r chi.Router) {
			r.Post("/join", communityH.JoinCommunity)
			r.Post("/leave", communityH.LeaveCommunity)
			r.Post("/channels/{channelId}/messages", msgH.SendChannelMessage)
			r.Patch("/channels/{channelId}/messages/{messageId}", msgH.EditChannelMessage)
			r.Delete("/channels/{channelId}/messages/{messageId}", msgH.DeleteChannelMessage)
			r.Post("/channels/{channelId}/read", readH.MarkChannelRead)
		})
		r.Get("/api/presence", presenceH.GetPresence)
	})
	return r
}

// compressExceptUpgrade сжимает ответы, кроме WebSocket: обёртка Compress не реализует
// http.Hijacker, и upgrade отвечал бы 500.
func compressExceptUpgrade(next http.Handler) http.Handler {
	compressed := chimw.Compress(5)(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			next.ServeHTTP(w, r)
			return
		}
		compressed.ServeHTTP(w, r)
	})
}
