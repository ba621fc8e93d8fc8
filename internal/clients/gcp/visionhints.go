package gcp

import (
	"context"
	"sort"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"

	"github.com/9963KK/aiedu-backend/internal/apierr"
	"github.com/9963KK/aiedu-backend/internal/logger"
	"github.com/9963KK/aiedu-backend/internal/types"
)

// VisionHintsClient derives layout hints for the heuristic image router from
// Cloud Vision OCR: how much of the image is covered by text, and whether
// the text blocks line up in a grid.
type VisionHintsClient struct {
	log    *logger.Logger
	client *vision.ImageAnnotatorClient
}

func NewVisionHintsClient(ctx context.Context, log *logger.Logger) (*VisionHintsClient, error) {
	client, err := vision.NewImageAnnotatorClient(ctx)
	if err != nil {
		return nil, apierr.UpstreamCall("create vision client: %v", err)
	}
	return &VisionHintsClient{log: log.With("client", "VisionHintsClient"), client: client}, nil
}

func (c *VisionHintsClient) Close() error { return c.client.Close() }

func (c *VisionHintsClient) Hints(ctx context.Context, content []byte) (types.VisionHints, error) {
	batch, err := c.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image: &visionpb.Image{Content: content},
			Features: []*visionpb.Feature{
				{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				{Type: visionpb.Feature_IMAGE_PROPERTIES},
			},
		}},
	})
	if err != nil {
		return types.VisionHints{}, apierr.UpstreamCall("vision annotate: %v", err)
	}
	resp := batch.GetResponses()[0]
	if e := resp.GetError(); e != nil && e.GetMessage() != "" {
		return types.VisionHints{}, apierr.UpstreamCall("vision annotate: %s", e.GetMessage())
	}

	annotation := resp.GetFullTextAnnotation()
	if annotation == nil || len(annotation.GetPages()) == 0 {
		return types.VisionHints{}, nil
	}

	page := annotation.GetPages()[0]
	imageArea := float64(page.GetWidth()) * float64(page.GetHeight())
	if imageArea <= 0 {
		return types.VisionHints{}, nil
	}

	var textArea float64
	var rows []float64 // top-edge y of each block
	for _, block := range page.GetBlocks() {
		box := block.GetBoundingBox()
		if box == nil || len(box.GetVertices()) < 4 {
			continue
		}
		textArea += boxArea(box)
		rows = append(rows, float64(box.GetVertices()[0].GetY()))
	}

	ratio := textArea / imageArea
	if ratio > 1 {
		ratio = 1
	}
	return types.VisionHints{
		TextRatio: ratio,
		GridLike:  looksGridLike(rows),
	}, nil
}

func boxArea(box *visionpb.BoundingPoly) float64 {
	vs := box.GetVertices()
	minX, minY := vs[0].GetX(), vs[0].GetY()
	maxX, maxY := minX, minY
	for _, v := range vs[1:] {
		if v.GetX() < minX {
			minX = v.GetX()
		}
		if v.GetX() > maxX {
			maxX = v.GetX()
		}
		if v.GetY() < minY {
			minY = v.GetY()
		}
		if v.GetY() > maxY {
			maxY = v.GetY()
		}
	}
	return float64(maxX-minX) * float64(maxY-minY)
}

// looksGridLike reports whether block top edges cluster into repeated rows,
// which is how OCR output over a table tends to come back.
func looksGridLike(rows []float64) bool {
	if len(rows) < 6 {
		return false
	}
	sort.Float64s(rows)
	const tolerance = 8.0
	clusters := 1
	aligned := 1
	best := 1
	for i := 1; i < len(rows); i++ {
		if rows[i]-rows[i-1] <= tolerance {
			aligned++
		} else {
			clusters++
			if aligned > best {
				best = aligned
			}
			aligned = 1
		}
	}
	if aligned > best {
		best = aligned
	}
	return clusters >= 3 && best >= 2
}
