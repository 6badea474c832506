package workers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"rescue_scrooper/httputil"
	"rescue_scrooper/logging"
	"rescue_scrooper/models"
)

const maxImageBytes = 20 * 1024 * 1024

// Uploader stores media in S3-compatible storage
type Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
	PublicURL(key string) string
}

// existenceChecker is implemented by uploaders that can skip re-uploading
// content they already hold.
type existenceChecker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// MediaWorker downloads animal images, hashes them, and re-hosts them
type MediaWorker struct {
	httpClient *http.Client
	uploader   Uploader
	retry      httputil.RetryPolicy
	health     *HealthWindow
	logFn      LogFunc
	logger     *log.Logger
}

func NewMediaWorker(client *http.Client, uploader Uploader, retry httputil.RetryPolicy, healthWindow int) *MediaWorker {
	if client == nil {
		client = http.DefaultClient
	}
	return &MediaWorker{
		httpClient: client,
		uploader:   uploader,
		retry:      retry,
		health:     NewHealthWindow(healthWindow),
		logFn:      NoOpLogger,
		logger:     logging.Get("media"),
	}
}

// SetLogFunc routes per-image failures to the operational log.
func (w *MediaWorker) SetLogFunc(fn LogFunc) {
	if fn == nil {
		fn = NoOpLogger
	}
	w.logFn = fn
}

// SetHealthTTL sets how long a media result affects Health.
func (w *MediaWorker) SetHealthTTL(ttl time.Duration) {
	w.health.SetTTL(ttl)
}

// Health is the recent failure rate of media operations, in percent.
func (w *MediaWorker) Health() float64 {
	return w.health.FailureRate()
}

// MediaResult is the outcome of re-hosting one image
type MediaResult struct {
	Key         string
	PublicURL   string
	ContentHash string
	Size        int64
}

// Process downloads one image and uploads it under a content-addressed key.
func (w *MediaWorker) Process(ctx context.Context, imageURL string) (*MediaResult, error) {
	var data []byte
	var contentType string

	err := httputil.Retry(ctx, w.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
		if err != nil {
			return httputil.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("User-Agent", httputil.UserAgent)
		req.Header.Set("Accept", "image/*,*/*")

		resp, err := w.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("download: %w", err)
		}
		defer resp.Body.Close()

		if err := httputil.CheckStatus(resp); err != nil {
			return err
		}

		data, err = io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		contentType = resp.Header.Get("Content-Type")
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image %s", imageURL)
	}

	hash := sha256.Sum256(data)
	result := &MediaResult{
		ContentHash: hex.EncodeToString(hash[:]),
		Size:        int64(len(data)),
	}

	// media/{hash_prefix}/{hash}.{ext}
	ext := guessExtension(imageURL, contentType)
	result.Key = fmt.Sprintf("media/%s/%s%s", result.ContentHash[:2], result.ContentHash, ext)

	if contentType == "" {
		contentType = "image/jpeg"
	}

	exists := false
	if ec, ok := w.uploader.(existenceChecker); ok {
		exists, err = ec.Exists(ctx, result.Key)
		if err != nil {
			w.logger.Printf("exists check %s: %v", result.Key, err)
		}
	}
	if !exists {
		if err := w.uploader.Upload(ctx, result.Key, bytes.NewReader(data), contentType); err != nil {
			return nil, fmt.Errorf("upload: %w", err)
		}
	}

	result.PublicURL = w.uploader.PublicURL(result.Key)
	return result, nil
}

// ProcessBatch re-hosts the primary image of each animal and returns the
// updated records in input order. Images are handled batchSize at a time,
// in parallel within a batch when concurrent is set. A failed image keeps
// the animal's source URL; it never drops the animal.
func (w *MediaWorker) ProcessBatch(ctx context.Context, orgID string, animals []models.RawAnimal, batchSize int, concurrent bool) []models.RawAnimal {
	out := make([]models.RawAnimal, len(animals))
	copy(out, animals)
	if batchSize < 1 {
		batchSize = 1
	}

	var uploaded, failed int
	for start := 0; start < len(out); start += batchSize {
		if ctx.Err() != nil {
			w.logger.Printf("%s: media stopped after %d of %d: %v", orgID, start, len(out), ctx.Err())
			break
		}
		end := min(start+batchSize, len(out))

		ok := make([]bool, end-start)
		g, gctx := errgroup.WithContext(ctx)
		if concurrent {
			g.SetLimit(batchSize)
		} else {
			g.SetLimit(1)
		}
		for i := start; i < end; i++ {
			g.Go(func() error {
				ok[i-start] = w.processAnimal(gctx, orgID, &out[i])
				return nil
			})
		}
		g.Wait()

		for _, o := range ok {
			if o {
				uploaded++
			} else {
				failed++
			}
		}
	}

	if uploaded > 0 || failed > 0 {
		w.logger.Printf("%s: media uploaded %d, failed %d (failure rate %.1f%%)", orgID, uploaded, failed, w.Health())
	}
	return out
}

// processAnimal reports false only for an attempted image that failed.
func (w *MediaWorker) processAnimal(ctx context.Context, orgID string, a *models.RawAnimal) bool {
	src := a.PrimaryImageURL
	if src == "" {
		return true
	}

	res, err := w.Process(ctx, src)
	w.health.Record(err == nil)
	if err != nil {
		msg := fmt.Sprintf("image %s for %s: %v", src, a.ExternalID, err)
		w.logger.Printf("%s: %s", orgID, msg)
		w.logFn(models.LogLevelWarn, orgID, msg)
		return false
	}

	if a.OriginalImageURL == "" {
		a.OriginalImageURL = src
	}
	a.PrimaryImageURL = res.PublicURL
	return true
}

// guessExtension determines file extension from URL or content-type
func guessExtension(rawURL, contentType string) string {
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := strings.ToLower(path.Ext(p))
	if ext != "" && isImageExt(ext) {
		return ext
	}

	switch strings.TrimSpace(strings.Split(contentType, ";")[0]) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tiff":
		return true
	}
	return false
}

// NoOpUploader keeps nothing and hands back the key as URL (dry runs)
type NoOpUploader struct{}

func (u *NoOpUploader) Upload(ctx context.Context, key string, data io.Reader, contentType string) error {
	io.Copy(io.Discard, data)
	return nil
}

func (u *NoOpUploader) PublicURL(key string) string {
	return "noop://" + key
}

func NewNoOpUploader() *NoOpUploader {
	return &NoOpUploader{}
}
