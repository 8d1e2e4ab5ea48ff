package orchestrator

import (
	"net/http"
	"strings"

	"github.com/cloudfleet/emulator/cmn"
	"github.com/cloudfleet/emulator/middleware"
)

// jsonExtractors builds the Operation/Resource extractors every
// JSON-1.1 X-Amz-Target family service shares: the mock rule matcher
// and the IAM evaluator both key on the operation suffix after the last
// ".", the same parse every *_handlers.go's serveJSON/serveSNS/
// serveEvents/serveControlPlane performs before its switch statement.
func jsonExtractors() middleware.Extractors {
	return middleware.Extractors{
		Operation: func(r *http.Request) string {
			target := r.Header.Get(cmn.HeaderAmzTarget)
			if idx := strings.LastIndex(target, "."); idx >= 0 {
				return target[idx+1:]
			}
			return target
		},
	}
}

// s3Extractors derives an operation name from method+query and the
// bucket as the resource id, matching the s3 family's REST-ish (not
// X-Amz-Target) wire shape (spec.md §6).
func s3Extractors() middleware.Extractors {
	return middleware.Extractors{
		Operation: func(r *http.Request) string { return s3OperationOf(r) },
		Resource: func(r *http.Request) string {
			path := strings.TrimPrefix(r.URL.Path, "/")
			if idx := strings.Index(path, "/"); idx >= 0 {
				return path[:idx]
			}
			return path
		},
	}
}

func s3OperationOf(r *http.Request) string {
	q := r.URL.Query()
	path := strings.Trim(r.URL.Path, "/")
	hasKey := strings.Contains(path, "/")
	switch r.Method {
	case http.MethodPut:
		if !hasKey {
			return "create-bucket"
		}
		return "put-object"
	case http.MethodGet:
		if !hasKey {
			if _, ok := q["list-type"]; ok {
				return "list-objects-v2"
			}
			return "list-objects-v2"
		}
		return "get-object"
	case http.MethodHead:
		if !hasKey {
			return "head-bucket"
		}
		return "head-object"
	case http.MethodDelete:
		if !hasKey {
			return "delete-bucket"
		}
		return "delete-object"
	case http.MethodPost:
		return "complete-multipart-upload"
	default:
		return strings.ToLower(r.Method)
	}
}
