package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/raterudder/chargeplan/pkg/log"
	"github.com/raterudder/chargeplan/pkg/types"
)

// maxBodyBytes caps request bodies read while extracting the siteID.
const maxBodyBytes = 1 << 20

// authMiddleware authenticates the Bearer ID token, checks the email against
// admin-emails and puts the request's siteID into the context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := log.WithAttrs(r.Context(), slog.String("reqPath", r.URL.Path))

		siteID, ok := s.requestSiteID(ctx, w, r)
		if !ok {
			return
		}

		var email string
		if !s.bypassAuth {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				log.Ctx(ctx).WarnContext(ctx, "missing authorization header")
				writeJSONError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			token, found := strings.CutPrefix(authHeader, "Bearer ")
			if !found || token == "" {
				log.Ctx(ctx).WarnContext(ctx, "invalid authorization header")
				writeJSONError(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}
			if s.tokenVerifier == nil {
				log.Ctx(ctx).ErrorContext(ctx, "no token verifier configured")
				writeJSONError(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			var err error
			email, err = s.tokenVerifier(ctx, token)
			if err != nil {
				log.Ctx(ctx).WarnContext(ctx, "id token validation failed", slog.Any("error", err))
				writeJSONError(w, "invalid id token", http.StatusUnauthorized)
				return
			}
			if !s.isAdmin(email) {
				log.Ctx(ctx).WarnContext(ctx, "email not allowed", slog.String("email", email))
				writeJSONError(w, "forbidden", http.StatusForbidden)
				return
			}
			ctx = log.WithAttrs(ctx, slog.String("email", email))
		}

		if siteID == "" {
			if !s.singleSite {
				log.Ctx(ctx).WarnContext(ctx, "siteID required")
				writeJSONError(w, "siteID required", http.StatusBadRequest)
				return
			}
			siteID = types.SiteIDNone
		} else if s.singleSite && siteID != types.SiteIDNone {
			writeJSONError(w, "siteID not allowed in single-site mode", http.StatusBadRequest)
			return
		}
		ctx = log.WithAttrs(ctx, slog.String("authSiteID", siteID))

		log.Ctx(ctx).DebugContext(ctx, "authenticated request")

		ctx = context.WithValue(ctx, emailContextKey, email)
		ctx = context.WithValue(ctx, siteIDContextKey, siteID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestSiteID reads siteID from the query for GET requests and from the JSON
// body otherwise. The body is restored for the next handler.
func (s *Server) requestSiteID(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method == http.MethodGet {
		return r.URL.Query().Get("siteID"), true
	}
	if r.Body == nil {
		return "", true
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to read request body", slog.Any("error", err))
		// since we failed to read, don't return JSON error
		http.Error(w, "invalid request", http.StatusBadRequest)
		return "", false
	}
	r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	if len(bodyBytes) == 0 {
		return "", true
	}

	var justSiteID struct {
		SiteID string `json:"siteID"`
	}
	if err := json.Unmarshal(bodyBytes, &justSiteID); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal request body", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return "", false
	}
	return justSiteID.SiteID, true
}
