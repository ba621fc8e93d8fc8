package services

import (
	"context"

	"github.com/9963KK/aiedu-backend/internal/logger"
	"github.com/9963KK/aiedu-backend/internal/types"
)

// VisionRouter decides how an uploaded image should be processed. It always
// produces a classification; uncertainty degrades toward "diagram" with a
// lowered confidence rather than toward an error.
type VisionRouter interface {
	Classify(ctx context.Context, content []byte, filename string) types.Classification
}

// RemoteClassifier is the port for a VLM-backed classifier. Implementations
// absorb their own failures and return a degraded classification instead of
// an error.
type RemoteClassifier interface {
	Classify(ctx context.Context, content []byte, filename string) types.Classification
}

// HintProvider supplies OCR layout hints for the heuristic router.
type HintProvider interface {
	Hints(ctx context.Context, content []byte) (types.VisionHints, error)
}

// RouteByHints maps layout hints onto a label. The thresholds come first in
// specificity order: a grid of text is a table even when the text ratio
// would also qualify as text heavy.
func RouteByHints(hints types.VisionHints) types.Classification {
	switch {
	case hints.GridLike && hints.TextRatio > 0.2:
		return types.Classification{Label: types.LabelTable, Confidence: 0.70}
	case hints.TextRatio > 0.6:
		return types.Classification{Label: types.LabelTextHeavy, Confidence: 0.80}
	case hints.TextRatio < 0.15:
		return types.Classification{Label: types.LabelPhoto, Confidence: 0.60}
	default:
		return types.Classification{Label: types.LabelDiagram, Confidence: 0.55}
	}
}

type remoteRouter struct {
	log        *logger.Logger
	classifier RemoteClassifier
}

// NewRemoteVisionRouter routes through a VLM classifier.
func NewRemoteVisionRouter(log *logger.Logger, classifier RemoteClassifier) VisionRouter {
	return &remoteRouter{log: log.With("service", "VisionRouter"), classifier: classifier}
}

func (r *remoteRouter) Classify(ctx context.Context, content []byte, filename string) types.Classification {
	return r.classifier.Classify(ctx, content, filename)
}

type heuristicRouter struct {
	log   *logger.Logger
	hints HintProvider
}

// NewHeuristicVisionRouter routes on OCR layout hints. A hint failure falls
// back to the neutral classification.
func NewHeuristicVisionRouter(log *logger.Logger, hints HintProvider) VisionRouter {
	return &heuristicRouter{log: log.With("service", "VisionRouter"), hints: hints}
}

func (r *heuristicRouter) Classify(ctx context.Context, content []byte, filename string) types.Classification {
	hints, err := r.hints.Hints(ctx, content)
	if err != nil {
		r.log.Warn("vision hints unavailable, using neutral classification", "filename", filename, "error", err)
		return types.Classification{Label: types.LabelDiagram, Confidence: 0.55}
	}
	return RouteByHints(hints)
}
