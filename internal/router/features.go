package router

import (
	"strings"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/tokencount"
)

// ExtractFeatures buckets a request into the coarse features that key
// adaptive routing history. Buckets are deliberately wide so history
// accumulates fast enough to matter.
func ExtractFeatures(req *gateway.Request, counter *tokencount.Counter) gateway.RequestFeatures {
	text := requestText(req)
	tokens := counter.EstimateRequest(req)

	f := gateway.RequestFeatures{
		HasCode: looksLikeCode(text),
		HasMath: looksLikeMath(text),
	}

	switch {
	case tokens < 500:
		f.LengthBucket = "short"
	case tokens < 2000:
		f.LengthBucket = "medium"
	default:
		f.LengthBucket = "long"
	}

	switch {
	case f.HasCode:
		f.Domain = "code"
	case f.HasMath:
		f.Domain = "math"
	default:
		f.Domain = "general"
	}

	score := 0
	if tokens >= 2000 {
		score += 2
	} else if tokens >= 500 {
		score++
	}
	if len(req.Tools) > 0 {
		score++
	}
	if f.HasCode || f.HasMath {
		score++
	}
	switch {
	case score >= 3:
		f.Complexity = "high"
	case score >= 1:
		f.Complexity = "medium"
	default:
		f.Complexity = "low"
	}
	return f
}

func requestText(req *gateway.Request) string {
	if len(req.Messages) == 0 {
		return req.Prompt
	}
	var sb strings.Builder
	for _, m := range req.Messages {
		sb.WriteString(m.Content)
		sb.WriteByte('\n')
	}
	return sb.String()
}

var codeMarkers = []string{"```", "func ", "def ", "class ", "import ", "#include", "=> {", "select * from", "SELECT "}

func looksLikeCode(text string) bool {
	for _, m := range codeMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

var mathMarkers = []string{"\\frac", "\\sum", "integral", "derivative", "theorem", "∑", "∫", "√"}

func looksLikeMath(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range mathMarkers {
		if strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// featureKey flattens features into a history map key.
func featureKey(f gateway.RequestFeatures) string {
	return f.LengthBucket + "|" + f.Complexity + "|" + f.Domain
}
