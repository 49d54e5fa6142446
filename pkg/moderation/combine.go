package moderation

import "sort"

// Combine merges local findings with an optional classifier verdict: the
// result is flagged if either source flags, and takes the higher severity,
// the union of categories and the higher confidence.
func Combine(local LocalResult, classifier *ClassifierResult) Result {
	result := Result{
		Flagged:    local.Flagged,
		Severity:   local.Severity,
		Categories: appendUnique(make([]string, 0, len(local.Categories)), local.Categories...),
		Confidence: local.Confidence,
		Local:      &local,
	}

	if classifier != nil {
		result.Flagged = result.Flagged || classifier.Flagged
		result.Severity = MaxSeverity(result.Severity, classifier.Severity)
		result.Categories = appendUnique(result.Categories, classifier.Categories...)
		if classifier.Confidence > result.Confidence {
			result.Confidence = classifier.Confidence
		}
	}

	sort.Strings(result.Categories)
	return result
}
