package server

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"visionzoo/internal/nn"
	"visionzoo/internal/zoo"
)

// tinyServeModel is a stand-in classifier so handler tests do not have to
// construct a full network.
type tinyServeModel struct {
	classes int
}

func (m *tinyServeModel) Name() string       { return "tiny_serve" }
func (m *tinyServeModel) NumClasses() int    { return m.classes }
func (m *tinyServeModel) InChannels() int    { return 3 }
func (m *tinyServeModel) Params() []nn.Param { return nil }

func (m *tinyServeModel) OutShape(in tensor.Shape) tensor.Shape {
	return tensor.Shape{in[0], m.classes}
}

func (m *tinyServeModel) Forward(x *tensor.Dense, train bool) *tensor.Dense {
	n := x.Shape()[0]
	backing := make([]float32, n*m.classes)
	for i := 0; i < n; i++ {
		backing[i*m.classes+2] = 3
	}
	return tensor.New(tensor.WithShape(n, m.classes), tensor.WithBacking(backing))
}

func init() {
	zoo.Register("tiny_serve", func(o zoo.Options) zoo.Model {
		return &tinyServeModel{classes: o.NumClasses}
	})
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(32, zoo.WithNumClasses(6)).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListModels(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/models")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Models []string `json:"models"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Contains(t, body.Models, "inception_v4")
	require.Contains(t, body.Models, "tiny_serve")
}

func TestModelSummary(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/models/tiny_serve")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body modelSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "tiny_serve", body.Name)
	require.Equal(t, 6, body.NumClasses)
}

func TestModelSummaryUnknown(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/models/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClassify(t *testing.T) {
	srv := newTestServer(t)

	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))

	resp, err := http.Post(srv.URL+"/api/models/tiny_serve/classify", "image/png", buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body classifyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "tiny_serve", body.Model)
	require.Len(t, body.Predictions, 5)
	require.Equal(t, 2, body.Predictions[0].Class)
	require.Greater(t, body.Predictions[0].Probability, body.Predictions[1].Probability)
}

func TestClassifyRejectsGarbage(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Post(srv.URL+"/api/models/tiny_serve/classify", "image/png", bytes.NewBufferString("not an image"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
