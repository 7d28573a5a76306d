// Package ingest checks that a call recording is reachable and small enough
// before any model time is spent on it.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"call-pipeline-go/internal/logger"
)

var (
	ErrUnreachable     = errors.New("audio unreachable")
	ErrUnsupportedType = errors.New("unsupported audio content type")
	ErrPayloadTooLarge = errors.New("payload too large")
)

type Limits struct {
	HeadTimeout           time.Duration
	MaxFileBytes          int64
	MaxTranscriptionBytes int64
}

// Info is what the existence check learned about the audio file.
type Info struct {
	URL           string `json:"url"`
	ContentType   string `json:"content_type,omitempty"`
	ContentLength int64  `json:"content_length"` // -1 when not declared
	// TooLargeForTranscription is set when the file passes the overall
	// ceiling but exceeds what the transcription endpoint accepts.
	TooLargeForTranscription bool `json:"too_large_for_transcription"`
}

// Audio is a downloaded recording.
type Audio struct {
	Data        []byte
	ContentType string
	Filename    string
}

type Validator struct {
	client     *http.Client
	limits     Limits
	retryDelay time.Duration
	log        *logrus.Entry
}

func NewValidator(client *http.Client, limits Limits, log *logrus.Entry) *Validator {
	if client == nil {
		client = &http.Client{}
	}
	if limits.HeadTimeout <= 0 {
		limits.HeadTimeout = 15 * time.Second
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Validator{
		client:     client,
		limits:     limits,
		retryDelay: 500 * time.Millisecond,
		log:        log.WithField("component", "ingest"),
	}
}

// Check issues a HEAD request (retried once on transient failure) and
// applies the size and content-type rules.
func (v *Validator) Check(ctx context.Context, audioURL string) (Info, error) {
	info := Info{URL: audioURL, ContentLength: -1}
	log := v.log.WithField("audio_url", audioURL)

	var resp *http.Response
	op := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, v.limits.HeadTimeout)
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, audioURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrUnreachable, err))
		}
		r, err := v.client.Do(req)
		if err != nil {
			log.WithError(err).Warn("head request failed")
			return fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		r.Body.Close()
		if r.StatusCode >= 500 {
			return fmt.Errorf("%w: status %d", ErrUnreachable, r.StatusCode)
		}
		resp = r
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(v.retryDelay), 1), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return info, err
	}

	switch {
	case resp.StatusCode == http.StatusMethodNotAllowed:
		// Some object stores refuse HEAD; size is enforced while streaming.
		log.Warn("head not allowed, size unknown until download")
		return info, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return info, fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}

	info.ContentType = resp.Header.Get("Content-Type")
	if !acceptedType(info.ContentType) {
		return info, fmt.Errorf("%w: %s", ErrUnsupportedType, info.ContentType)
	}

	info.ContentLength = resp.ContentLength
	if v.limits.MaxFileBytes > 0 && info.ContentLength > v.limits.MaxFileBytes {
		return info, fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, info.ContentLength, v.limits.MaxFileBytes)
	}
	if v.limits.MaxTranscriptionBytes > 0 && info.ContentLength > v.limits.MaxTranscriptionBytes {
		info.TooLargeForTranscription = true
	}

	log.WithFields(logrus.Fields{
		"content_type":   info.ContentType,
		"content_length": info.ContentLength,
	}).Info("audio reachable")
	return info, nil
}

// Fetch downloads the recording, failing with ErrPayloadTooLarge as soon as
// the stream passes the transcription ceiling.
func (v *Validator) Fetch(ctx context.Context, audioURL string) (Audio, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return Audio{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return Audio{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Audio{}, fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}

	limit := v.limits.MaxTranscriptionBytes
	var buf bytes.Buffer
	var src io.Reader = resp.Body
	if limit > 0 {
		src = io.LimitReader(resp.Body, limit+1)
	}
	if _, err := io.Copy(&buf, src); err != nil {
		return Audio{}, fmt.Errorf("reading audio: %w", err)
	}
	if limit > 0 && int64(buf.Len()) > limit {
		return Audio{}, fmt.Errorf("%w: stream exceeds %d bytes", ErrPayloadTooLarge, limit)
	}

	return Audio{
		Data:        buf.Bytes(),
		ContentType: resp.Header.Get("Content-Type"),
		Filename:    filenameFromURL(audioURL),
	}, nil
}

func acceptedType(ct string) bool {
	if ct == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "audio/") ||
		strings.HasPrefix(mt, "video/") ||
		mt == "application/octet-stream" ||
		mt == "binary/octet-stream"
}

func filenameFromURL(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	name := u[strings.LastIndex(u, "/")+1:]
	if name == "" || !strings.Contains(name, ".") {
		return "audio.mp3"
	}
	return name
}
