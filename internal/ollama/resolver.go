// Package ollama finds GGUF blobs pulled by a local Ollama install so they
// can be used as GPT-2 weights.
package ollama

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
)

const (
	DefaultHost      = "registry.ollama.ai"
	DefaultNamespace = "library"
	DefaultTag       = "latest"
	MediaTypeModel   = "application/vnd.ollama.image.model"

	// Scheme prefixes a model reference on the command line.
	Scheme = "ollama://"
)

var ErrNoModelLayer = errors.New("manifest has no model layer")

type Manifest struct {
	SchemaVersion int     `json:"schemaVersion"`
	Layers        []Layer `json:"layers"`
}

type Layer struct {
	MediaType string `json:"mediaType"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size"`
}

// Name is a parsed model reference: [host/][namespace/]model[:tag].
type Name struct {
	Host      string
	Namespace string
	Model     string
	Tag       string
}

// ParseName fills in the defaults for missing parts. A leading Scheme is
// ignored.
func ParseName(s string) (Name, error) {
	s = strings.TrimPrefix(s, Scheme)
	n := Name{Host: DefaultHost, Namespace: DefaultNamespace, Tag: DefaultTag}
	if i := strings.LastIndexByte(s, ':'); i > strings.LastIndexByte(s, '/') {
		n.Tag = s[i+1:]
		s = s[:i]
	}
	parts := strings.Split(s, "/")
	switch len(parts) {
	case 1:
		n.Model = parts[0]
	case 2:
		n.Namespace, n.Model = parts[0], parts[1]
	case 3:
		n.Host, n.Namespace, n.Model = parts[0], parts[1], parts[2]
	default:
		return n, fmt.Errorf("invalid model name %q", s)
	}
	if n.Model == "" || n.Tag == "" || n.Namespace == "" || n.Host == "" {
		return n, fmt.Errorf("invalid model name %q", s)
	}
	return n, nil
}

func (n Name) String() string {
	return n.Host + "/" + n.Namespace + "/" + n.Model + ":" + n.Tag
}

// ModelsDir is $OLLAMA_MODELS or ~/.ollama/models.
func ModelsDir() (string, error) {
	if env := os.Getenv("OLLAMA_MODELS"); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ollama", "models"), nil
}

// Resolve returns the path of the GGUF blob for a model reference such as
// "gpt2", "gpt2:124m" or "ollama://someone/gpt2".
func Resolve(ref string) (string, error) {
	n, err := ParseName(ref)
	if err != nil {
		return "", err
	}
	dir, err := ModelsDir()
	if err != nil {
		return "", err
	}
	return resolveIn(dir, n)
}

func resolveIn(dir string, n Name) (string, error) {
	manifestPath := filepath.Join(dir, "manifests", n.Host, n.Namespace, n.Model, n.Tag)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return "", fmt.Errorf("model %s: %w", n, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("manifest %s: %w", manifestPath, err)
	}

	for _, l := range m.Layers {
		if l.MediaType != MediaTypeModel {
			continue
		}
		// sha256:abc is stored as blobs/sha256-abc
		blob := filepath.Join(dir, "blobs", strings.Replace(l.Digest, ":", "-", 1))
		if _, err := os.Stat(blob); err != nil {
			return "", fmt.Errorf("model %s: %w", n, err)
		}
		return blob, nil
	}
	return "", fmt.Errorf("model %s: %w", n, ErrNoModelLayer)
}
