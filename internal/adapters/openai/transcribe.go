package openai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

// Transcriber implementa ports.Transcriber con el endpoint /audio/transcriptions.
type Transcriber struct {
	c *Client
}

// NewTranscriber crea un Transcriber sobre c.
func NewTranscriber(c *Client) *Transcriber {
	return &Transcriber{c: c}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe sube el archivo de audio y devuelve el texto.
func (t *Transcriber) Transcribe(ctx context.Context, path string) (string, error) {
	var out transcriptionResponse
	err := t.c.do(ctx, func(ctx context.Context) (*http.Request, error) {
		body, contentType, err := t.form(path)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.c.cfg.BaseURL+"/audio/transcriptions", body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	}, &out)
	if err != nil {
		return "", fmt.Errorf("openai.Transcribe %s: %w", filepath.Base(path), err)
	}
	return out.Text, nil
}

// form arma el multipart en memoria: los archivos nunca superan ~25 MB.
func (t *Transcriber) form(path string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	fields := map[string]string{
		"model":           t.c.cfg.TranscribeModel,
		"language":        t.c.cfg.Language,
		"response_format": "json",
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
