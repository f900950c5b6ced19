package media

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scrypster/storyforge/internal/retry"
)

// Image sizes and quality tiers accepted by the DALL-E backend.
const (
	SizeSquare    = "1024x1024"
	SizeLandscape = "1792x1024"
	SizePortrait  = "1024x1792"

	QualityStandard = "standard"
	QualityHD       = "hd"
)

// ImageRequest describes one illustration.
type ImageRequest struct {
	SessionID string
	Prompt    string
	Size      string // default 1024x1024
	Quality   string // standard or hd
	// ReferenceImageURL keeps a character consistent across images. It
	// routes the request to Fal when Fal is configured.
	ReferenceImageURL string
	Seed              int
}

// ImageResult is a generated image saved under the public image dir.
type ImageResult struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	SourceURL  string `json:"source_url"`
	LocalPath  string `json:"local_path"`
	PublicPath string `json:"public_path"`
	Prompt     string `json:"prompt"` // the prompt that succeeded
	Tier       int    `json:"tier"`   // 1 = as given, 2 = softened, 3 = abstract
}

// imageBackend returns the hosted URL of one generated image.
type imageBackend interface {
	Name() string
	Model() string
	Generate(ctx context.Context, prompt string, req ImageRequest) (string, error)
}

// ImageConfig configures an ImageService.
type ImageConfig struct {
	Dir        string // public image directory
	PublicBase string // URL prefix for saved files (default: /images)
	HTTPClient *http.Client
	Retry      Retry
}

// ImageService generates illustrations, falling back through a softened and
// then an abstract prompt when a provider refuses the original.
type ImageService struct {
	dalle  imageBackend
	fal    imageBackend
	cfg    ImageConfig
	http   *http.Client
	usage  ImageUsage
	logger *zap.Logger
}

// NewImageService wires the configured backends. Either backend may be nil,
// but not both.
func NewImageService(dalle *DalleBackend, fal *FalBackend, cfg ImageConfig, usage ImageUsage, logger *zap.Logger) (*ImageService, error) {
	s := &ImageService{cfg: cfg, usage: usage}
	if dalle != nil {
		s.dalle = dalle
	}
	if fal != nil {
		s.fal = fal
	}
	if s.dalle == nil && s.fal == nil {
		return nil, fmt.Errorf("images: %w", ErrNoProvider)
	}
	return s.init(logger), nil
}

func (s *ImageService) init(logger *zap.Logger) *ImageService {
	if s.cfg.PublicBase == "" {
		s.cfg.PublicBase = "/images"
	}
	if s.cfg.Dir == "" {
		s.cfg.Dir = "./public/images"
	}
	s.http = defaultHTTPClient(s.cfg.HTTPClient, 60*time.Second)
	if logger == nil {
		logger = zap.NewNop()
	}
	s.logger = logger.Named("images")
	return s
}

// backendFor prefers Fal for reference-image requests and DALL-E otherwise.
func (s *ImageService) backendFor(req ImageRequest) imageBackend {
	if req.ReferenceImageURL != "" && s.fal != nil {
		return s.fal
	}
	if s.dalle != nil {
		return s.dalle
	}
	return s.fal
}

// Generate produces one image for req and saves it locally. Each prompt tier
// gets the full retry budget; a content-policy refusal or exhausted retries
// move on to the next tier, while authentication and other terminal errors
// abort. The last error is returned when every tier fails.
func (s *ImageService) Generate(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	if req.Size == "" {
		req.Size = SizeSquare
	}
	if req.Quality == "" {
		req.Quality = QualityStandard
	}

	backend := s.backendFor(req)
	log := s.logger.With(zap.String("provider", backend.Name()), zap.String("session_id", req.SessionID))

	var lastErr error
	for i, prompt := range PromptLadder(req.Prompt) {
		tier := i + 1
		url, err := retry.Do(ctx, retry.Policy{
			Name:        fmt.Sprintf("image tier %d", tier),
			MaxAttempts: s.cfg.Retry.MaxAttempts,
			BaseDelay:   s.cfg.Retry.BaseDelay,
			Logger:      log,
		}, func(ctx context.Context, _ int) (string, error) {
			return backend.Generate(ctx, prompt, req)
		})
		if err == nil {
			res, err := s.save(ctx, backend, url)
			if err != nil {
				return nil, err
			}
			res.Prompt, res.Tier = prompt, tier
			if s.usage != nil && req.SessionID != "" {
				s.usage.TrackImage(req.SessionID, backend.Model(), req.Size, req.Quality, 1)
			}
			if tier > 1 {
				log.Info("image generated with fallback prompt", zap.Int("tier", tier))
			}
			return res, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}
		var exhausted *retry.ExhaustedError
		if !retry.IsContentPolicy(err) && !errors.As(err, &exhausted) {
			log.Error("image generation failed", zap.Int("tier", tier), zap.Error(err))
			return nil, err
		}
		log.Warn("image tier failed, softening prompt", zap.Int("tier", tier), zap.Error(err))
	}
	return nil, fmt.Errorf("image generation failed on every prompt tier: %w", lastErr)
}

// save downloads the hosted image into the public dir.
func (s *ImageService) save(ctx context.Context, backend imageBackend, url string) (*ImageResult, error) {
	data, contentType, err := fetch(ctx, s.http, backend.Name(), url)
	if err != nil {
		return nil, err
	}
	name := uuid.NewString() + imageExt(contentType)
	path := filepath.Join(s.cfg.Dir, name)
	if err := writeFileAtomic(path, data); err != nil {
		return nil, fmt.Errorf("save image: %w", err)
	}
	return &ImageResult{
		Provider:   backend.Name(),
		Model:      backend.Model(),
		SourceURL:  url,
		LocalPath:  path,
		PublicPath: strings.TrimSuffix(s.cfg.PublicBase, "/") + "/" + name,
	}, nil
}

func imageExt(contentType string) string {
	mt, _, _ := mime.ParseMediaType(contentType)
	switch mt {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

// Compile-time assertions.
var (
	_ imageBackend = (*DalleBackend)(nil)
	_ imageBackend = (*FalBackend)(nil)
)
