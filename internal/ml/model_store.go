package ml

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ModelVersion is one published similarity model.
type ModelVersion struct {
	ID        string
	Matrix    *SimilarityMatrix
	CreatedAt time.Time
}

// PersistenceError reports storage targets that failed while publishing. The
// model it refers to was still installed as the live version.
type PersistenceError struct {
	Version  string
	Failures map[string]error
}

func (e *PersistenceError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for target, err := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", target, err))
	}
	return fmt.Sprintf("model %s persisted partially: %s", e.Version, strings.Join(parts, "; "))
}

func (e *PersistenceError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, err := range e.Failures {
		errs = append(errs, err)
	}
	return errs
}

// ModelStore holds the live similarity model. Readers load it without
// locking; publishers build a complete version first and install it with a
// single pointer swap.
type ModelStore struct {
	live    atomic.Pointer[ModelVersion]
	targets []ModelStorage
	publish sync.Mutex
	now     func() time.Time
	logger  *logrus.Logger
}

// NewModelStore creates a store persisting to targets in order. The first
// target is treated as the durable copy, later ones as caches.
func NewModelStore(logger *logrus.Logger, targets ...ModelStorage) *ModelStore {
	return &ModelStore{
		targets: targets,
		now:     time.Now,
		logger:  logger,
	}
}

// Live returns the current model version, or nil before the first model is
// available.
func (s *ModelStore) Live() *ModelVersion {
	return s.live.Load()
}

// Publish persists matrix to every target and then makes it live. Storage
// failures do not prevent the swap; they are returned as *PersistenceError
// alongside the installed version.
func (s *ModelStore) Publish(ctx context.Context, matrix *SimilarityMatrix) (*ModelVersion, error) {
	if matrix == nil || matrix.Len() == 0 {
		return nil, fmt.Errorf("refusing to publish an empty model")
	}

	s.publish.Lock()
	defer s.publish.Unlock()

	version := &ModelVersion{
		ID:        uuid.NewString(),
		Matrix:    matrix,
		CreatedAt: s.now().UTC(),
	}

	failures := make(map[string]error)
	data, err := EncodeModel(version)
	if err != nil {
		for _, target := range s.targets {
			failures[target.Name()] = err
		}
	} else {
		for _, target := range s.targets {
			if err := target.Write(ctx, data); err != nil {
				failures[target.Name()] = err
				s.logger.WithError(err).WithFields(logrus.Fields{
					"model_version": version.ID,
					"target":        target.Name(),
				}).Warn("Failed to persist model")
			}
		}
	}

	s.live.Store(version)

	s.logger.WithFields(logrus.Fields{
		"model_version": version.ID,
		"products":      matrix.Len(),
		"bytes":         len(data),
	}).Info("Model published")

	if len(failures) > 0 {
		return version, &PersistenceError{Version: version.ID, Failures: failures}
	}
	return version, nil
}

// WarmStart installs the first decodable model found in the storage targets,
// unless a model is already live. It returns the name of the target used.
func (s *ModelStore) WarmStart(ctx context.Context) (string, error) {
	var errs []error
	for _, target := range s.targets {
		data, err := target.Read(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", target.Name(), err))
			continue
		}

		version, err := DecodeModel(data)
		if err != nil {
			s.logger.WithError(err).WithField("target", target.Name()).Warn("Discarding unreadable persisted model")
			errs = append(errs, fmt.Errorf("%s: %w", target.Name(), err))
			continue
		}

		if !s.live.CompareAndSwap(nil, version) {
			s.logger.WithField("target", target.Name()).Info("Live model already present, skipping warm start")
			return "", nil
		}

		s.logger.WithFields(logrus.Fields{
			"model_version": version.ID,
			"products":      version.Matrix.Len(),
			"target":        target.Name(),
		}).Info("Model warm-started from persisted copy")
		return target.Name(), nil
	}

	return "", fmt.Errorf("no persisted model available: %w", errors.Join(errs...))
}

type encodedModel struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Products  []int64   `json:"products"`
	Scores    []float64 `json:"scores"` // upper triangle, row-major
}

// EncodeModel serializes a model version to JSON.
func EncodeModel(v *ModelVersion) ([]byte, error) {
	data, err := json.Marshal(encodedModel{
		Version:   v.ID,
		CreatedAt: v.CreatedAt,
		Products:  v.Matrix.products,
		Scores:    v.Matrix.upperTriangle(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode model: %w", err)
	}
	return data, nil
}

// DecodeModel is the inverse of EncodeModel.
func DecodeModel(data []byte) (*ModelVersion, error) {
	var enc encodedModel
	if err := json.Unmarshal(data, &enc); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}

	scores, err := symFromUpperTriangle(len(enc.Products), enc.Scores)
	if err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	matrix, err := NewSimilarityMatrix(enc.Products, scores)
	if err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}

	return &ModelVersion{
		ID:        enc.Version,
		Matrix:    matrix,
		CreatedAt: enc.CreatedAt,
	}, nil
}
