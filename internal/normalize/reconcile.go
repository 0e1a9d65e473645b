package normalize

import (
	"strings"

	"lectern-backend/internal/models"
)

// Reconcile maps model vocabulary onto the canonical lecture schema at the
// top level of a payload: slide bulletPoints become content, resource name
// becomes title, and resource type is folded into video, course or article.
// Reconciled data passes through unchanged.
func Reconcile(v any) any {
	obj, ok := v.(map[string]any)
	if !ok {
		return v
	}

	out := copyObject(obj)
	if slides, ok := obj["slides"].([]any); ok {
		out["slides"] = mapObjects(slides, reconcileSlide)
	}
	if resources, ok := obj["resources"].([]any); ok {
		out["resources"] = mapObjects(resources, reconcileResource)
	}
	return out
}

func reconcileSlide(slide map[string]any) map[string]any {
	bullets, hasBullets := slide["bulletPoints"]
	if !hasBullets || !missing(slide, "content") {
		return slide
	}
	slide["content"] = bullets
	delete(slide, "bulletPoints")
	return slide
}

func reconcileResource(res map[string]any) map[string]any {
	if name, ok := res["name"]; ok && missing(res, "title") {
		res["title"] = name
		delete(res, "name")
	}
	raw, _ := res["type"].(string)
	res["type"] = string(ClassifyResourceType(raw))
	return res
}

// ClassifyResourceType folds a free-text resource kind into the closed set.
func ClassifyResourceType(raw string) models.ResourceType {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "video"):
		return models.ResourceVideo
	case strings.Contains(lower, "course"), strings.Contains(lower, "lab"):
		return models.ResourceCourse
	default:
		return models.ResourceArticle
	}
}

func mapObjects(items []any, fn func(map[string]any) map[string]any) []any {
	out := make([]any, len(items))
	for i, item := range items {
		if obj, ok := item.(map[string]any); ok {
			out[i] = fn(copyObject(obj))
			continue
		}
		out[i] = item
	}
	return out
}

func missing(obj map[string]any, key string) bool {
	v, ok := obj[key]
	if !ok || v == nil {
		return true
	}
	s, isString := v.(string)
	return isString && s == ""
}

func copyObject(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	return out
}
