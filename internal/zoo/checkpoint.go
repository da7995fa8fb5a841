package zoo

import (
	"encoding/gob"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"gorgonia.org/tensor"

	"visionzoo/internal/nn"
)

// defaultSources maps model names to the published checkpoint location.
// An empty string means no weights have been published for that model.
var defaultSources = map[string]string{
	"inception_v4": "",
}

type savedParam struct {
	Name  string
	Shape []int
	Data  []float32
}

type checkpoint struct {
	Model  string
	Params []savedParam
}

// SaveCheckpoint writes every model parameter to path as a gob stream of
// named records.
func SaveCheckpoint(path string, m Model) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	defer f.Close()

	ckpt := checkpoint{Model: m.Name()}
	for _, p := range m.Params() {
		ckpt.Params = append(ckpt.Params, savedParam{
			Name:  p.Name,
			Shape: append([]int(nil), p.Data.Shape()...),
			Data:  p.Data.Data().([]float32),
		})
	}
	if err := gob.NewEncoder(f).Encode(ckpt); err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint populates m's parameters from src, which may be a local
// path or an http(s) URL. When the stored classifier was trained for a
// different class count its weights are skipped and the model keeps its
// fresh initialization; any other shape mismatch is an error.
func LoadCheckpoint(m Model, src string) error {
	r, err := openSource(src)
	if err != nil {
		return err
	}
	defer r.Close()

	var ckpt checkpoint
	if err := gob.NewDecoder(r).Decode(&ckpt); err != nil {
		return fmt.Errorf("decode checkpoint %s: %w", src, err)
	}
	if ckpt.Model != "" && ckpt.Model != m.Name() {
		return fmt.Errorf("checkpoint %s holds %q weights, model is %q", src, ckpt.Model, m.Name())
	}

	byName := make(map[string]nn.Param)
	for _, p := range m.Params() {
		byName[p.Name] = p
	}

	loaded := 0
	for _, saved := range ckpt.Params {
		p, ok := byName[saved.Name]
		if !ok {
			return fmt.Errorf("checkpoint %s: model has no parameter %q", src, saved.Name)
		}
		if !p.Data.Shape().Eq(tensor.Shape(saved.Shape)) {
			if strings.HasPrefix(saved.Name, "classifier.") {
				continue // class count differs; keep the fresh head
			}
			return fmt.Errorf("checkpoint %s: parameter %q shape %v, model wants %v",
				src, saved.Name, saved.Shape, p.Data.Shape())
		}
		if len(saved.Data) != p.Data.Shape().TotalSize() {
			return fmt.Errorf("checkpoint %s: parameter %q carries %d values, shape %v wants %d",
				src, saved.Name, len(saved.Data), saved.Shape, p.Data.Shape().TotalSize())
		}
		copy(p.Data.Data().([]float32), saved.Data)
		loaded++
	}
	if loaded == 0 {
		return fmt.Errorf("checkpoint %s matched no parameters", src)
	}
	return nil
}

// LoadPretrained fetches the registered default weights for m.
func LoadPretrained(m Model) error {
	url, ok := defaultSources[m.Name()]
	if !ok || url == "" {
		return fmt.Errorf("zoo: no published weights for %q", m.Name())
	}
	return LoadCheckpoint(m, url)
}

func openSource(src string) (io.ReadCloser, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		resp, err := http.Get(src)
		if err != nil {
			return nil, fmt.Errorf("fetch checkpoint: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("fetch checkpoint %s: status %s", src, resp.Status)
		}
		return resp.Body, nil
	}
	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	return f, nil
}
