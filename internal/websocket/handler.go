package websocket

import (
	"log/slog"
	"net/http"
	"strings"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/reciperank/internal/auth"
)

// HandleWebSocket upgrades authenticated requests and attaches them to the
// hub under the caller's account. originPatterns limits cross-origin
// browsers; empty means same-origin only.
func HandleWebSocket(hub *Hub, originPatterns []string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := auth.AccountID(r.Context())
		if accountID == "" {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{OriginPatterns: originPatterns})
		if err != nil {
			logger.Warn("websocket accept failed", "account_id", accountID, "error", err)
			return
		}
		defer conn.CloseNow()

		NewClient(hub, conn, accountID).Run(r.Context())
	}
}

// TokenFromQuery copies a ?token= parameter into the Authorization header.
// Browsers cannot set headers on websocket handshakes.
func TokenFromQuery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tok := r.URL.Query().Get("token"); tok != "" && r.Header.Get("Authorization") == "" {
			r = r.Clone(r.Context())
			r.Header.Set("Authorization", "Bearer "+strings.TrimSpace(tok))
		}
		next.ServeHTTP(w, r)
	})
}
