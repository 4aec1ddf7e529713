// Command test-server is a local planner service for trying herd
// configurations: users log in for a bearer token, list topics, schedule
// plans and log out.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/wesleyorama2/herd/internal/logging"
)

type server struct {
	logger *zap.Logger
	delay  time.Duration

	mu     sync.Mutex
	tokens map[string]string // token -> username
}

func main() {
	addr := pflag.String("addr", ":8080", "listen address")
	delay := pflag.Duration("delay", 20*time.Millisecond, "maximum random latency added to every response")
	pflag.Parse()

	logger, err := logging.New("info", logging.FormatConsole)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	s := &server{logger: logger, delay: *delay, tokens: make(map[string]string)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", s.login)
	mux.HandleFunc("DELETE /logout", s.authorized(s.logout))
	mux.HandleFunc("GET /topics", s.authorized(s.topics))
	mux.HandleFunc("POST /plans", s.authorized(s.schedule))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}

	logger.Info("starting planner test server", zap.String("addr", *addr))
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func (s *server) sleep() {
	if s.delay <= 0 {
		return
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(s.delay)))
	if err == nil {
		time.Sleep(time.Duration(n.Int64()))
	}
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	s.sleep()
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username == "" || body.Password == "" {
		http.Error(w, `{"error": "username and password are required"}`, http.StatusUnauthorized)
		return
	}

	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	token := hex.EncodeToString(buf)

	s.mu.Lock()
	for t, user := range s.tokens {
		if user == body.Username {
			s.logger.Warn("user logged in twice", zap.String("user", user))
			delete(s.tokens, t)
		}
	}
	s.tokens[token] = body.Username
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"accessToken": token})
}

func (s *server) authorized(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		_, ok := s.tokens[token]
		s.mu.Unlock()
		if !ok {
			http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
			return
		}
		s.sleep()
		next(w, r, token)
	}
}

func (s *server) logout(w http.ResponseWriter, _ *http.Request, token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) topics(w http.ResponseWriter, _ *http.Request, _ string) {
	writeJSON(w, http.StatusOK, map[string]any{
		"topicsStat": []map[string]any{
			{"topicId": 11, "topicType": map[string]string{"name": "Video"}},
			{"topicId": 42, "topicType": map[string]string{"name": "Test"}},
		},
	})
}

func (s *server) schedule(w http.ResponseWriter, r *http.Request, _ string) {
	var body struct {
		TopicID int `json:"topicId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TopicID == 0 {
		http.Error(w, `{"error": "topicId is required"}`, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"topicId": body.TopicID, "status": "SCHEDULED"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
