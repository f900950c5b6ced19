package usage

import (
	"sort"
	"strings"
)

// TokenPrice is USD per million tokens.
type TokenPrice struct {
	Input  float64
	Output float64
}

// PriceTable is the static, linear price list used for cost projection.
type PriceTable struct {
	Text          map[string]TokenPrice // model prefix -> price
	DefaultText   TokenPrice
	TTS           map[string]float64 // model -> USD per 1000 characters
	DefaultTTS    float64
	Transcription map[string]float64 // model -> USD per minute
	DefaultSTT    float64
	Images        map[string]float64 // "model/size/quality" -> USD per image
	DefaultImage  float64
}

// DefaultPrices reflects published list prices.
func DefaultPrices() PriceTable {
	return PriceTable{
		Text: map[string]TokenPrice{
			"gpt-4o":             {Input: 2.50, Output: 10.00},
			"gpt-4o-mini":        {Input: 0.15, Output: 0.60},
			"gpt-4.1":            {Input: 2.00, Output: 8.00},
			"gpt-4.1-mini":       {Input: 0.40, Output: 1.60},
			"gpt-5":              {Input: 1.25, Output: 10.00},
			"gpt-5-mini":         {Input: 0.25, Output: 2.00},
			"o1":                 {Input: 15.00, Output: 60.00},
			"o3-mini":            {Input: 1.10, Output: 4.40},
			"o4-mini":            {Input: 1.10, Output: 4.40},
			"llama-3.3-70b":      {Input: 0.70, Output: 2.80},
			"venice-uncensored":  {Input: 0.50, Output: 2.00},
			"deepseek-r1":        {Input: 3.50, Output: 14.00},
			"mistral-31-24b":     {Input: 0.50, Output: 2.00},
			"claude-3-5-sonnet":  {Input: 3.00, Output: 15.00},
			"gemini-2.0-flash":   {Input: 0.10, Output: 0.40},
			"qwen-2.5-qwq-32b":   {Input: 0.50, Output: 2.00},
			"dolphin-2.9.2-qwen": {Input: 0.70, Output: 2.80},
		},
		DefaultText: TokenPrice{Input: 2.50, Output: 10.00},
		TTS: map[string]float64{
			"eleven_multilingual_v2": 0.30,
			"eleven_turbo_v2_5":      0.15,
			"eleven_flash_v2_5":      0.15,
			"tts-1":                  0.015,
			"tts-1-hd":               0.030,
		},
		DefaultTTS: 0.30,
		Transcription: map[string]float64{
			"whisper-1":              0.006,
			"gpt-4o-transcribe":      0.006,
			"gpt-4o-mini-transcribe": 0.003,
		},
		DefaultSTT: 0.006,
		Images: map[string]float64{
			"dall-e-3/1024x1024/standard": 0.040,
			"dall-e-3/1024x1024/hd":       0.080,
			"dall-e-3/1024x1792/standard": 0.080,
			"dall-e-3/1792x1024/standard": 0.080,
			"dall-e-3/1024x1792/hd":       0.120,
			"dall-e-3/1792x1024/hd":       0.120,
			"dall-e-2/1024x1024/standard": 0.020,
			"dall-e-2/512x512/standard":   0.018,
			"dall-e-2/256x256/standard":   0.016,
			"fal-ai/flux/dev":             0.025,
			"fal-ai/flux-pulid":           0.035,
		},
		DefaultImage: 0.040,
	}
}

// TextPrice returns the longest-prefix match for model, with any
// "provider/" prefix ignored.
func (p PriceTable) TextPrice(model string) TokenPrice {
	m := strings.ToLower(model)
	if i := strings.LastIndex(m, "/"); i >= 0 {
		m = m[i+1:]
	}
	keys := make([]string, 0, len(p.Text))
	for k := range p.Text {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	for _, k := range keys {
		if strings.HasPrefix(m, k) {
			return p.Text[k]
		}
	}
	return p.DefaultText
}

// TTSPrice returns USD per 1000 characters.
func (p PriceTable) TTSPrice(model string) float64 {
	if v, ok := p.TTS[model]; ok {
		return v
	}
	return p.DefaultTTS
}

// TranscriptionPrice returns USD per minute of audio.
func (p PriceTable) TranscriptionPrice(model string) float64 {
	if v, ok := p.Transcription[model]; ok {
		return v
	}
	return p.DefaultSTT
}

// ImagePrice looks up model/size/quality, then the bare model, then the
// default.
func (p PriceTable) ImagePrice(model, size, quality string) float64 {
	if quality == "" {
		quality = "standard"
	}
	if v, ok := p.Images[model+"/"+size+"/"+quality]; ok {
		return v
	}
	if v, ok := p.Images[model]; ok {
		return v
	}
	return p.DefaultImage
}

// imageKey names the billing unit for an image tier.
func imageKey(model, size, quality string) string {
	if quality == "" {
		quality = "standard"
	}
	if size == "" {
		return model + "/" + quality
	}
	return model + "/" + size + "/" + quality
}
