package objectstore

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cloudfleet/emulator/cmn"
)

// serveS3 dispatches a REST+XML request by method, bucket/key path
// segments, and query-string sub-resource (?list-type=2, ?uploads,
// ?uploadId=, ?partNumber=, ?website, ?policy, ?notification), the
// wire shape spec.md §6 names for the object store family.
func (p *Provider) serveS3(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	var bucket, key string
	if idx := strings.Index(path, "/"); idx >= 0 {
		bucket, key = path[:idx], path[idx+1:]
	} else {
		bucket = path
	}
	q := r.URL.Query()

	if bucket == "" {
		writeS3Error(w, "InvalidBucketName", "bucket name required", "", http.StatusBadRequest)
		return
	}

	if key == "" {
		p.serveBucketLevel(w, r, bucket, q)
		return
	}
	p.serveObjectLevel(w, r, bucket, key, q)
}

func (p *Provider) serveBucketLevel(w http.ResponseWriter, r *http.Request, bucket string, q map[string][]string) {
	has := func(name string) bool { _, ok := q[name]; return ok }

	switch r.Method {
	case http.MethodPut:
		switch {
		case has("website"):
			p.handleSetWebsite(w, r, bucket)
		case has("policy"):
			p.handleSetPolicy(w, r, bucket)
		case has("notification"):
			p.handleSetNotification(w, r, bucket)
		default:
			if err := p.Store.CreateBucket(bucket); err != nil {
				writeEngineError(w, err, bucket)
				return
			}
			w.WriteHeader(http.StatusOK)
		}
	case http.MethodGet:
		switch {
		case has("website"):
			p.handleGetWebsite(w, bucket)
		case has("policy"):
			p.handleGetPolicy(w, bucket)
		case has("notification"):
			p.handleGetNotification(w, bucket)
		default:
			p.handleListObjectsV2(w, bucket, q)
		}
	case http.MethodDelete:
		if err := p.Store.DeleteBucket(bucket); err != nil {
			writeEngineError(w, err, bucket)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeS3Error(w, "MethodNotAllowed", "unsupported method", bucket, http.StatusMethodNotAllowed)
	}
}

func (p *Provider) serveObjectLevel(w http.ResponseWriter, r *http.Request, bucket, key string, q map[string][]string) {
	get := func(name string) string {
		if v, ok := q[name]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}
	_, hasUploads := q["uploads"]
	uploadID := get("uploadId")

	switch {
	case hasUploads && r.Method == http.MethodPost:
		p.handleCreateMultipartUpload(w, r, bucket, key)
		return
	case uploadID != "" && get("partNumber") != "" && r.Method == http.MethodPut:
		p.handleUploadPart(w, r, uploadID, get("partNumber"))
		return
	case uploadID != "" && r.Method == http.MethodPost:
		p.handleCompleteMultipartUpload(w, r, bucket, key, uploadID)
		return
	case uploadID != "" && r.Method == http.MethodDelete:
		p.handleAbortMultipartUpload(w, uploadID)
		return
	case uploadID != "" && r.Method == http.MethodGet:
		p.handleListParts(w, bucket, key, uploadID)
		return
	}

	switch r.Method {
	case http.MethodPut:
		p.handlePutObject(w, r, bucket, key)
	case http.MethodGet:
		p.handleGetObject(w, r, bucket, key)
	case http.MethodHead:
		p.handleHeadObject(w, r, bucket, key)
	case http.MethodDelete:
		p.handleDeleteObject(w, bucket, key)
	default:
		writeS3Error(w, "MethodNotAllowed", "unsupported method", key, http.StatusMethodNotAllowed)
	}
}

func (p *Provider) handlePutObject(w http.ResponseWriter, r *http.Request, bucket, key string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeS3Error(w, "InternalError", err.Error(), key, http.StatusInternalServerError)
		return
	}
	metadata := map[string]string{}
	for h := range r.Header {
		if strings.HasPrefix(strings.ToLower(h), "x-amz-meta-") {
			metadata[strings.ToLower(h[len("x-amz-meta-"):])] = r.Header.Get(h)
		}
	}
	meta, err := p.Store.PutObject(bucket, key, body, r.Header.Get("Content-Type"), metadata)
	if err != nil {
		writeEngineError(w, err, key)
		return
	}
	w.Header().Set("ETag", quoted(meta.ETag))
	w.WriteHeader(http.StatusOK)
}

func (p *Provider) handleGetObject(w http.ResponseWriter, r *http.Request, bucket, key string) {
	resolved := key
	if ws, ok := p.Store.Website(bucket); ok {
		resolved = ResolveWebsiteKey(ws, key)
	}
	body, meta, err := p.Store.GetObject(bucket, resolved, r.Header.Get("Range"))
	if err != nil {
		if ws, ok := p.Store.Website(bucket); ok && ws.ErrorDocument != "" {
			if errBody, errMeta, err2 := p.Store.GetObject(bucket, ws.ErrorDocument, ""); err2 == nil {
				w.Header().Set("Content-Type", errMeta.ContentType)
				w.WriteHeader(http.StatusNotFound)
				w.Write(errBody)
				return
			}
		}
		writeEngineError(w, err, key)
		return
	}
	setObjectHeaders(w.Header(), meta)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (p *Provider) handleHeadObject(w http.ResponseWriter, r *http.Request, bucket, key string) {
	resolved := key
	if ws, ok := p.Store.Website(bucket); ok {
		resolved = ResolveWebsiteKey(ws, key)
	}
	meta, err := p.Store.HeadObject(bucket, resolved)
	if err != nil {
		writeEngineError(w, err, key)
		return
	}
	setObjectHeaders(w.Header(), meta)
	w.WriteHeader(http.StatusOK)
}

func setObjectHeaders(h http.Header, meta ObjectMeta) {
	h.Set("ETag", quoted(meta.ETag))
	h.Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	h.Set("Content-Type", meta.ContentType)
	h.Set("Last-Modified", meta.LastModified.UTC().Format(time.RFC1123))
	for k, v := range meta.Metadata {
		h.Set("x-amz-meta-"+k, v)
	}
}

func (p *Provider) handleDeleteObject(w http.ResponseWriter, bucket, key string) {
	if err := p.Store.DeleteObject(bucket, key); err != nil {
		writeEngineError(w, err, key)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (p *Provider) handleListObjectsV2(w http.ResponseWriter, bucket string, q map[string][]string) {
	get := func(name string) string {
		if v, ok := q[name]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}
	maxKeys, _ := strconv.Atoi(get("max-keys"))
	result, err := p.Store.ListObjectsV2(bucket, get("prefix"), get("delimiter"), get("continuation-token"), maxKeys)
	if err != nil {
		writeEngineError(w, err, bucket)
		return
	}
	resp := listBucketResult{
		Name:                  bucket,
		Prefix:                get("prefix"),
		Delimiter:             get("delimiter"),
		MaxKeys:               maxKeys,
		KeyCount:              len(result.Contents) + len(result.CommonPrefixes),
		IsTruncated:           result.IsTruncated,
		ContinuationToken:     get("continuation-token"),
		NextContinuationToken: result.NextContinuationToken,
	}
	for _, k := range result.Contents {
		meta, _ := p.Store.HeadObject(bucket, k)
		resp.Contents = append(resp.Contents, s3Object{
			Key: k, ETag: quoted(meta.ETag), Size: meta.Size,
			LastModified: meta.LastModified.UTC().Format(time.RFC3339),
			StorageClass: "STANDARD",
		})
	}
	for _, cp := range result.CommonPrefixes {
		resp.CommonPrefixes = append(resp.CommonPrefixes, commonPrefix{Prefix: cp})
	}
	writeXML(w, http.StatusOK, resp)
}

func (p *Provider) handleSetWebsite(w http.ResponseWriter, r *http.Request, bucket string) {
	var x websiteConfigurationXML
	if err := xml.NewDecoder(r.Body).Decode(&x); err != nil {
		writeS3Error(w, "MalformedXML", err.Error(), bucket, http.StatusBadRequest)
		return
	}
	cfg := WebsiteConfig{IndexDocument: x.IndexDocument.Suffix, ErrorDocument: x.ErrorDocument.Key}
	if err := p.Store.SetWebsite(bucket, cfg); err != nil {
		writeEngineError(w, err, bucket)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (p *Provider) handleGetWebsite(w http.ResponseWriter, bucket string) {
	ws, ok := p.Store.Website(bucket)
	if !ok {
		writeS3Error(w, "NoSuchWebsiteConfiguration", "no website configuration", bucket, http.StatusNotFound)
		return
	}
	var x websiteConfigurationXML
	x.IndexDocument.Suffix = ws.IndexDocument
	x.ErrorDocument.Key = ws.ErrorDocument
	writeXML(w, http.StatusOK, x)
}

func (p *Provider) handleSetPolicy(w http.ResponseWriter, r *http.Request, bucket string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeS3Error(w, "InternalError", err.Error(), bucket, http.StatusInternalServerError)
		return
	}
	if err := p.Store.SetPolicy(bucket, string(body)); err != nil {
		writeEngineError(w, err, bucket)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (p *Provider) handleGetPolicy(w http.ResponseWriter, bucket string) {
	policy, err := p.Store.Policy(bucket)
	if err != nil {
		writeEngineError(w, err, bucket)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(policy))
}

func (p *Provider) handleSetNotification(w http.ResponseWriter, r *http.Request, bucket string) {
	var x notificationConfigurationXML
	if err := xml.NewDecoder(r.Body).Decode(&x); err != nil {
		writeS3Error(w, "MalformedXML", err.Error(), bucket, http.StatusBadRequest)
		return
	}
	if err := p.Store.SetNotification(bucket, notificationFromXML(x)); err != nil {
		writeEngineError(w, err, bucket)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (p *Provider) handleGetNotification(w http.ResponseWriter, bucket string) {
	b, ok := p.Store.getBucket(bucket)
	if !ok {
		writeS3Error(w, "NoSuchBucket", "bucket not found", bucket, http.StatusNotFound)
		return
	}
	var x notificationConfigurationXML
	for _, t := range b.Notification.Targets {
		x.TopicConfigurations = append(x.TopicConfigurations, notificationTargetXML{ARN: t.ARN, Events: t.EventTypes})
	}
	writeXML(w, http.StatusOK, x)
}

func (p *Provider) handleCreateMultipartUpload(w http.ResponseWriter, r *http.Request, bucket, key string) {
	uploadID, err := p.Store.CreateMultipartUpload(bucket, key, r.Header.Get("Content-Type"))
	if err != nil {
		writeEngineError(w, err, key)
		return
	}
	writeXML(w, http.StatusOK, initiateMultipartUploadResult{Bucket: bucket, Key: key, UploadID: uploadID})
}

func (p *Provider) handleUploadPart(w http.ResponseWriter, r *http.Request, uploadID, partNumberStr string) {
	partNumber, err := strconv.Atoi(partNumberStr)
	if err != nil {
		writeS3Error(w, "InvalidArgument", "invalid part number", uploadID, http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeS3Error(w, "InternalError", err.Error(), uploadID, http.StatusInternalServerError)
		return
	}
	etag, err := p.Store.UploadPart(uploadID, partNumber, body)
	if err != nil {
		writeEngineError(w, err, uploadID)
		return
	}
	w.Header().Set("ETag", quoted(etag))
	w.WriteHeader(http.StatusOK)
}

func (p *Provider) handleCompleteMultipartUpload(w http.ResponseWriter, r *http.Request, bucket, key, uploadID string) {
	var x completeMultipartUploadRequest
	if err := xml.NewDecoder(r.Body).Decode(&x); err != nil {
		writeS3Error(w, "MalformedXML", err.Error(), key, http.StatusBadRequest)
		return
	}
	parts := make([]CompletedPart, 0, len(x.Parts))
	for _, part := range x.Parts {
		parts = append(parts, CompletedPart{Number: part.PartNumber, ETag: unquote(part.ETag)})
	}
	meta, err := p.Store.CompleteMultipartUpload(uploadID, parts)
	if err != nil {
		writeEngineError(w, err, key)
		return
	}
	writeXML(w, http.StatusOK, completeMultipartUploadResult{Bucket: bucket, Key: key, ETag: quoted(meta.ETag)})
}

func (p *Provider) handleAbortMultipartUpload(w http.ResponseWriter, uploadID string) {
	if err := p.Store.AbortMultipartUpload(uploadID); err != nil {
		writeEngineError(w, err, uploadID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (p *Provider) handleListParts(w http.ResponseWriter, bucket, key, uploadID string) {
	parts, err := p.Store.ListParts(uploadID)
	if err != nil {
		writeEngineError(w, err, uploadID)
		return
	}
	resp := listPartsResult{Bucket: bucket, Key: key, UploadID: uploadID}
	for _, part := range parts {
		resp.Parts = append(resp.Parts, partXML{PartNumber: part.Number, ETag: quoted(part.ETag), Size: part.Size})
	}
	writeXML(w, http.StatusOK, resp)
}

func quoted(etag string) string {
	if strings.HasPrefix(etag, `"`) {
		return etag
	}
	return `"` + etag + `"`
}

func unquote(etag string) string {
	return strings.Trim(etag, `"`)
}

func writeXML(w http.ResponseWriter, status int, v interface{}) {
	body, err := xml.Marshal(v)
	if err != nil {
		writeS3Error(w, "InternalError", err.Error(), "", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	w.Write([]byte(xml.Header))
	w.Write(body)
}

func writeS3Error(w http.ResponseWriter, code, msg, resource string, status int) {
	fe := cmn.NewS3Error(code, msg, resource, "", status)
	contentType, body := fe.Render()
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(fe.StatusCode())
	w.Write(body)
}

func writeEngineError(w http.ResponseWriter, err error, resource string) {
	switch e := err.(type) {
	case *cmn.ExistsError:
		writeS3Error(w, "BucketAlreadyExists", e.Error(), resource, http.StatusConflict)
	case *cmn.NotFoundError:
		writeS3Error(w, "NoSuchKey", e.Error(), resource, http.StatusNotFound)
	case *cmn.ValidationError:
		writeS3Error(w, "InvalidRequest", e.Error(), resource, http.StatusBadRequest)
	default:
		writeS3Error(w, "InternalError", fmt.Sprintf("%v", err), resource, http.StatusInternalServerError)
	}
}
