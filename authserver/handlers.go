package authserver

import (
	"encoding/json"
	"net/http"

	"github.com/jrsteele09/go-auth-pipeline/internal/errors"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes bounds request bodies accepted by the JSON endpoints.
const maxBodyBytes = 1 << 16

type OTPGenerateRequest struct {
	Identifier string `json:"identifier"`
}

type OTPGenerateResponse struct {
	ExpiresIn int    `json:"expiresIn"`      // Seconds until the code expires
	Code      string `json:"code,omitempty"` // Only returned in DEV
}

type OTPValidateRequest struct {
	Identifier string `json:"identifier"`
	Code       string `json:"code"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// CredentialsResponse is returned by OTP validation and refresh.
type CredentialsResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         *User  `json:"user"`
}

// OTPGenerateHandler issues a one-time code for an identifier. Outside DEV the
// code would be delivered out of band, so it is only echoed back in DEV.
func (s *Server) OTPGenerateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OTPGenerateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeJSONError(w, "invalid_request", "Malformed request body", http.StatusBadRequest)
			return
		}

		code, err := s.otps.Generate(req.Identifier)
		if errors.Is(err, errors.ErrInvalidRequest) {
			writeJSONError(w, "invalid_request", "identifier is required", http.StatusBadRequest)
			return
		}
		if err != nil {
			log.Err(err).Msg("failed to generate one-time code")
			writeJSONError(w, "server_error", "Failed to generate code", http.StatusInternalServerError)
			return
		}

		resp := OTPGenerateResponse{ExpiresIn: int(s.otps.Expiry().Seconds())}
		if s.env == "DEV" {
			resp.Code = code
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// OTPValidateHandler exchanges a valid one-time code for a fresh credential triple.
func (s *Server) OTPValidateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OTPValidateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeJSONError(w, "invalid_request", "Malformed request body", http.StatusBadRequest)
			return
		}

		if err := s.otps.Validate(req.Identifier, req.Code); err != nil {
			writeJSONError(w, "invalid_grant", err.Error(), http.StatusUnauthorized)
			return
		}

		user := s.users.Login(req.Identifier, s.nowFunc())
		s.writeCredentials(w, user)
	}
}

// RefreshHandler rotates a refresh token. The old token stops working as soon
// as this call succeeds.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RefreshRequest
		if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
			writeJSONError(w, "invalid_request", "refreshToken is required", http.StatusBadRequest)
			return
		}

		userID, newRefresh, err := s.refresh.Rotate(req.RefreshToken)
		if err != nil {
			writeJSONError(w, "invalid_grant", err.Error(), http.StatusUnauthorized)
			return
		}

		user, err := s.users.Get(userID)
		if err != nil {
			writeJSONError(w, "invalid_grant", "Unknown user", http.StatusUnauthorized)
			return
		}

		accessToken, err := s.tokens.CreateAccessToken(user)
		if err != nil {
			log.Err(err).Str("user_id", userID).Msg("failed to create access token")
			writeJSONError(w, "server_error", "Failed to issue token", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, CredentialsResponse{
			AccessToken:  accessToken,
			RefreshToken: newRefresh,
			User:         user,
		})
	}
}

// MeHandler returns the authenticated user.
func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.users.Get(userIDFromContext(r.Context()))
		if err != nil {
			writeJSONError(w, "not_found", "User not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

// FlakyHandler fails every other call with 503, giving clients a retryable
// endpoint to exercise.
func (s *Server) FlakyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.flakyCalls.Add(1)%2 == 1 {
			writeJSONError(w, "temporarily_unavailable", "Try again", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// LogoutHandler revokes the caller's refresh token.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := userIDFromContext(r.Context())
		if err := s.refresh.Revoke(userID); err != nil {
			log.Err(err).Str("user_id", userID).Msg("failed to revoke refresh token")
			writeJSONError(w, "server_error", "Failed to log out", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) writeCredentials(w http.ResponseWriter, user *User) {
	accessToken, err := s.tokens.CreateAccessToken(user)
	if err != nil {
		log.Err(err).Str("user_id", user.ID).Msg("failed to create access token")
		writeJSONError(w, "server_error", "Failed to issue token", http.StatusInternalServerError)
		return
	}
	refreshToken, err := s.refresh.Create(user.ID)
	if err != nil {
		log.Err(err).Str("user_id", user.ID).Msg("failed to create refresh token")
		writeJSONError(w, "server_error", "Failed to issue token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, CredentialsResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user,
	})
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}
