package objectstore

import "sort"

// partMeta is one stored part of an in-progress multipart upload; the
// body itself lives on disk under the upload's staging directory.
type partMeta struct {
	Number int
	ETag   string
	Size   int64
}

// multipartUpload tracks the staging state of an in-progress
// CreateMultipartUpload/UploadPart/CompleteMultipartUpload sequence.
type multipartUpload struct {
	UploadID    string
	Bucket      string
	Key         string
	ContentType string
	Parts       map[int]partMeta
}

func (u *multipartUpload) sortedParts() []partMeta {
	out := make([]partMeta, 0, len(u.Parts))
	for _, p := range u.Parts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// CompletedPart is the caller-supplied (number, etag) pair validated
// against stored part metadata in CompleteMultipartUpload.
type CompletedPart struct {
	Number int
	ETag   string
}
