package remote

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/nwhit/corkboard/pkg/board"
)

// Server is the reference document server: a MemoryStore behind the HTTP
// contract that HTTPStore speaks. It exists so the repo is self-contained —
// production deployments point HTTPStore at whatever record store actually
// holds the documents.
type Server struct {
	store *MemoryStore
	log   *zap.Logger
	mux   *http.ServeMux
}

// NewServer creates a Server. A nil logger disables logging.
func NewServer(store *MemoryStore, log *zap.Logger) *Server {
	if store == nil {
		store = NewMemoryStore()
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{store: store, log: log, mux: http.NewServeMux()}
	s.mux.HandleFunc("/v1/documents/", s.handleDocument)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	documentID := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	if documentID == "" || strings.Contains(documentID, "/") {
		http.Error(w, "invalid document id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleFetch(w, r, documentID)
	case http.MethodPut:
		s.handleWrite(w, r, documentID)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request, documentID string) {
	doc, err := s.store.Fetch(r.Context(), documentID)
	if err != nil {
		s.log.Warn("fetch failed", zap.String("document_id", documentID), zap.Error(err))
		http.Error(w, "fetch failed", http.StatusInternalServerError)
		return
	}

	s.log.Debug("fetch",
		zap.String("document_id", documentID),
		zap.Int64("version", doc.Version),
		zap.Int("items", len(doc.Items)))
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request, documentID string) {
	var raw struct {
		Items       json.RawMessage `json:"items"`
		BaseVersion int64           `json:"base_version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// The server is authoritative, so it sanitizes too: a misbehaving client
	// must not poison the document for its siblings.
	req := WriteRequest{
		Items:       board.ParseItems(raw.Items),
		BaseVersion: raw.BaseVersion,
	}

	accepted, err := s.store.Write(r.Context(), documentID, req)
	if err != nil {
		if conflict, ok := AsConflict(err); ok {
			s.log.Info("write conflict",
				zap.String("document_id", documentID),
				zap.Int64("base_version", req.BaseVersion),
				zap.Int64("current_version", conflict.Current.Version))
			writeJSON(w, http.StatusConflict, conflict.Current)
			return
		}
		s.log.Warn("write failed", zap.String("document_id", documentID), zap.Error(err))
		http.Error(w, "write failed", http.StatusInternalServerError)
		return
	}

	s.log.Info("write accepted",
		zap.String("document_id", documentID),
		zap.Int64("version", accepted.Version),
		zap.Int("items", len(accepted.Items)))
	writeJSON(w, http.StatusOK, accepted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
