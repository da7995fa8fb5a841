// Package server exposes the model zoo over HTTP: a catalog listing,
// per-model summaries, and an image classification endpoint.
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"sort"
	"sync"

	"github.com/gorilla/mux"

	"visionzoo/internal/dataset"
	"visionzoo/internal/zoo"
)

const maxImageBytes = 32 << 20

// Server serves the zoo. Models are built on first use and cached, so the
// first classify request for a model pays its construction cost.
type Server struct {
	imageSize int
	opts      []zoo.Option

	mu     sync.Mutex
	models map[string]zoo.Model
}

// New returns a Server that preprocesses request images to imageSize and
// builds models with opts.
func New(imageSize int, opts ...zoo.Option) *Server {
	if imageSize <= 0 {
		imageSize = 299
	}
	return &Server{
		imageSize: imageSize,
		opts:      opts,
		models:    map[string]zoo.Model{},
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/models", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/api/models/{name}", s.handleSummary).Methods(http.MethodGet)
	r.HandleFunc("/api/models/{name}/classify", s.handleClassify).Methods(http.MethodPost)
	return r
}

func (s *Server) model(name string) (zoo.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.models[name]; ok {
		return m, nil
	}
	m, err := zoo.Build(name, s.opts...)
	if err != nil {
		return nil, err
	}
	s.models[name] = m
	return m, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"models": zoo.Names()})
}

type modelSummary struct {
	Name       string `json:"name"`
	NumClasses int    `json:"num_classes"`
	InChannels int    `json:"in_channels"`
	ParamCount int    `json:"param_count"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	m, err := s.model(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, modelSummary{
		Name:       m.Name(),
		NumClasses: m.NumClasses(),
		InChannels: m.InChannels(),
		ParamCount: zoo.ParamCount(m),
	})
}

type prediction struct {
	Class       int     `json:"class"`
	Probability float64 `json:"probability"`
}

type classifyResponse struct {
	Model       string       `json:"model"`
	Predictions []prediction `json:"predictions"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	m, err := s.model(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxImageBytes))
	if err != nil {
		http.Error(w, fmt.Sprintf("read body: %v", err), http.StatusBadRequest)
		return
	}
	input, err := dataset.Preprocess(raw, s.imageSize)
	if err != nil {
		http.Error(w, fmt.Sprintf("decode image: %v", err), http.StatusBadRequest)
		return
	}
	if err := input.Reshape(1, m.InChannels(), s.imageSize, s.imageSize); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	logits := m.Forward(input, false)
	probs := softmax(logits.Data().([]float32))
	writeJSON(w, http.StatusOK, classifyResponse{
		Model:       m.Name(),
		Predictions: topK(probs, 5),
	})
}

func softmax(logits []float32) []float64 {
	max := logits[0]
	for _, v := range logits {
		if v > max {
			max = v
		}
	}
	probs := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		probs[i] = math.Exp(float64(v - max))
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

func topK(probs []float64, k int) []prediction {
	preds := make([]prediction, len(probs))
	for i, p := range probs {
		preds[i] = prediction{Class: i, Probability: p}
	}
	sort.Slice(preds, func(i, j int) bool { return preds[i].Probability > preds[j].Probability })
	if k > len(preds) {
		k = len(preds)
	}
	return preds[:k]
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}
