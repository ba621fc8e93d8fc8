package gcp

import (
	"context"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"github.com/9963KK/aiedu-backend/internal/apierr"
	"github.com/9963KK/aiedu-backend/internal/logger"
	"github.com/9963KK/aiedu-backend/internal/types"
	"github.com/9963KK/aiedu-backend/internal/utils"
)

// SpeechClient transcribes audio through Google Cloud Speech-to-Text. It is
// an alternative to the default Whisper-compatible ASR backend.
type SpeechClient struct {
	log      *logger.Logger
	language string
	client   *speech.Client
}

func NewSpeechClient(ctx context.Context, log *logger.Logger) (*SpeechClient, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, apierr.UpstreamCall("create speech client: %v", err)
	}
	return &SpeechClient{
		log:      log.With("client", "SpeechClient"),
		language: utils.GetEnv("GCP_SPEECH_LANGUAGE", "en-US", log),
		client:   client,
	}, nil
}

func (c *SpeechClient) Close() error { return c.client.Close() }

func (c *SpeechClient) Transcribe(ctx context.Context, content []byte, filename string) (*types.TranscriptResult, error) {
	resp, err := c.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   audioEncoding(filename),
			LanguageCode:               c.language,
			EnableAutomaticPunctuation: true,
			EnableWordTimeOffsets:      true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: content},
		},
	})
	if err != nil {
		return nil, apierr.UpstreamCall("speech recognize: %v", err)
	}

	result := &types.TranscriptResult{}
	for _, r := range resp.GetResults() {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		alt := r.GetAlternatives()[0]
		text := strings.TrimSpace(alt.GetTranscript())
		if text == "" {
			continue
		}
		var start, end float64
		if words := alt.GetWords(); len(words) > 0 {
			start = words[0].GetStartTime().AsDuration().Seconds()
			end = words[len(words)-1].GetEndTime().AsDuration().Seconds()
		} else {
			end = r.GetResultEndTime().AsDuration().Seconds()
		}
		result.Segments = append(result.Segments, types.TranscriptSegment{
			Start: start,
			End:   end,
			Text:  text,
		})
	}
	return result, nil
}

func audioEncoding(filename string) speechpb.RecognitionConfig_AudioEncoding {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".wav"):
		return speechpb.RecognitionConfig_LINEAR16
	case strings.HasSuffix(lower, ".mp3"):
		return speechpb.RecognitionConfig_MP3
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}
