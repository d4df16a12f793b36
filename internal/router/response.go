package router

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gridworks/gridcore/internal/gridtypes"
)

func bytesReader(raw []byte) io.Reader { return bytes.NewReader(raw) }

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}

// writeError translates a GridError into the downstream-dialect error body.
// Non-GridError values are treated as SessionNotCreated.
func writeError(w http.ResponseWriter, dialect gridtypes.Dialect, err error) {
	kind := gridtypes.ErrSessionNotCreated
	message := err.Error()

	var ge *gridtypes.GridError
	if errors.As(err, &ge) {
		kind = ge.Kind
		message = ge.Message
	}

	body := map[string]any{
		"value": map[string]any{
			"error":      kind.Slug(),
			"message":    message,
			"stacktrace": "",
		},
	}
	if dialect == gridtypes.DialectLegacy {
		body = map[string]any{
			"status": 13,
			"value":  body["value"],
		}
	}
	writeJSON(w, kind.HTTPStatus(), body)
}

func writeCreateSessionSuccess(w http.ResponseWriter, sess gridtypes.Session) {
	if sess.DownstreamDialect == gridtypes.DialectLegacy {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    0,
			"sessionId": sess.ID,
			"value":     sess.NegotiatedCapabilities,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"value": map[string]any{
			"sessionId":    sess.ID,
			"capabilities": sess.NegotiatedCapabilities,
		},
	})
}
