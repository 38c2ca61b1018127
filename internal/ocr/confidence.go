package ocr

import (
	"regexp"
	"strings"
)

var (
	reDate   = regexp.MustCompile(`\b\d{1,2}[-/]\d{1,2}[-/]\d{2,4}\b`)
	reDose   = regexp.MustCompile(`\b\d+(\.\d+)?\s*(mg|ml|mcg|tablets?|caps?(ules?)?)\b`)
	reRxTerm = regexp.MustCompile(`\b(rx|refills?|sig|dispense|qty|pharmacy|prescri\w*)\b`)
)

func hasDatePattern(s string) bool   { return reDate.MatchString(s) }
func hasDosePattern(s string) bool   { return reDose.MatchString(s) }
func hasRxTermPattern(s string) bool { return reRxTerm.MatchString(s) }

// heuristicConfidence scores how prescription-like the decoded text looks.
func heuristicConfidence(txt string) float32 {
	txtL := strings.ToLower(txt)
	score := float32(0.2) // base
	if hasDatePattern(txtL) {
		score += 0.2
	}
	if hasDosePattern(txtL) {
		score += 0.2
	}
	if hasRxTermPattern(txtL) {
		score += 0.15
	}
	if len(txt) > 120 {
		score += 0.1
	} // enough content
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// blendConfidence weights the engine's own word confidence over the heuristic
// when it is available.
func blendConfidence(engine, heuristic float32) float32 {
	conf := heuristic
	if engine > 0 {
		conf = 0.7*engine + 0.3*heuristic
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}
