package objectstore

import (
	"context"
	"sync"
	"testing"

	. "github.com/onsi/gomega"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(ctx context.Context, targetARN string, envelope []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, targetARN)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

func newTestStore(t *testing.T, notifier Notifier) *Store {
	return NewStore(t.TempDir(), notifier)
}

func TestStore_PutGetHeadDeleteObject(t *testing.T) {
	g := NewWithT(t)
	s := newTestStore(t, nil)
	g.Expect(s.CreateBucket("bkt")).To(Succeed())

	meta, err := s.PutObject("bkt", "a/b.txt", []byte("hello world"), "text/plain", nil)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(meta.Size).To(Equal(int64(11)))

	body, _, err := s.GetObject("bkt", "a/b.txt", "")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(body)).To(Equal("hello world"))

	ranged, _, err := s.GetObject("bkt", "a/b.txt", "bytes=0-4")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(ranged)).To(Equal("hello"))

	headMeta, err := s.HeadObject("bkt", "a/b.txt")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(headMeta.ETag).To(Equal(meta.ETag))

	g.Expect(s.DeleteObject("bkt", "a/b.txt")).To(Succeed())
	_, _, err = s.GetObject("bkt", "a/b.txt", "")
	g.Expect(err).To(HaveOccurred())

	g.Expect(s.DeleteObject("bkt", "missing")).To(Succeed())
}

func TestStore_CreateBucketIsIdempotent(t *testing.T) {
	g := NewWithT(t)
	s := newTestStore(t, nil)
	g.Expect(s.CreateBucket("bkt")).To(Succeed())
	g.Expect(s.CreateBucket("bkt")).To(Succeed())
}

func TestStore_ListObjectsV2WithDelimiterGroupsPrefixes(t *testing.T) {
	g := NewWithT(t)
	s := newTestStore(t, nil)
	g.Expect(s.CreateBucket("bkt")).To(Succeed())
	for _, key := range []string{"a/1.txt", "a/2.txt", "b.txt"} {
		_, err := s.PutObject("bkt", key, []byte("x"), "", nil)
		g.Expect(err).NotTo(HaveOccurred())
	}

	result, err := s.ListObjectsV2("bkt", "", "/", "", 0)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(result.CommonPrefixes).To(ConsistOf("a/"))
	g.Expect(result.Contents).To(ConsistOf("b.txt"))
}

func TestStore_ListObjectsV2PaginatesWithContinuationToken(t *testing.T) {
	g := NewWithT(t)
	s := newTestStore(t, nil)
	g.Expect(s.CreateBucket("bkt")).To(Succeed())
	for _, key := range []string{"k1", "k2", "k3"} {
		_, err := s.PutObject("bkt", key, []byte("x"), "", nil)
		g.Expect(err).NotTo(HaveOccurred())
	}

	first, err := s.ListObjectsV2("bkt", "", "", "", 2)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(first.Contents).To(Equal([]string{"k1", "k2"}))
	g.Expect(first.IsTruncated).To(BeTrue())
	g.Expect(first.NextContinuationToken).To(Equal("k2"))

	second, err := s.ListObjectsV2("bkt", "", "", first.NextContinuationToken, 2)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(second.Contents).To(Equal([]string{"k3"}))
	g.Expect(second.IsTruncated).To(BeFalse())
}

func TestStore_MultipartUploadRoundTrip(t *testing.T) {
	g := NewWithT(t)
	s := newTestStore(t, nil)
	g.Expect(s.CreateBucket("bkt")).To(Succeed())

	uploadID, err := s.CreateMultipartUpload("bkt", "big.bin", "application/octet-stream")
	g.Expect(err).NotTo(HaveOccurred())

	etag1, err := s.UploadPart(uploadID, 1, []byte("hello "))
	g.Expect(err).NotTo(HaveOccurred())
	etag2, err := s.UploadPart(uploadID, 2, []byte("world"))
	g.Expect(err).NotTo(HaveOccurred())

	parts, err := s.ListParts(uploadID)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(parts).To(HaveLen(2))

	meta, err := s.CompleteMultipartUpload(uploadID, []CompletedPart{
		{Number: 1, ETag: etag1},
		{Number: 2, ETag: etag2},
	})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(meta.ETag).To(HaveSuffix("-2"))

	body, _, err := s.GetObject("bkt", "big.bin", "")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(body)).To(Equal("hello world"))

	_, err = s.ListParts(uploadID)
	g.Expect(err).To(HaveOccurred())
}

func TestStore_CompleteMultipartUploadRejectsEmptyPartsAndGaps(t *testing.T) {
	g := NewWithT(t)
	s := newTestStore(t, nil)
	g.Expect(s.CreateBucket("bkt")).To(Succeed())
	uploadID, err := s.CreateMultipartUpload("bkt", "big.bin", "")
	g.Expect(err).NotTo(HaveOccurred())

	_, err = s.CompleteMultipartUpload(uploadID, nil)
	g.Expect(err).To(HaveOccurred())

	etag1, err := s.UploadPart(uploadID, 1, []byte("a"))
	g.Expect(err).NotTo(HaveOccurred())
	etag3, err := s.UploadPart(uploadID, 3, []byte("c"))
	g.Expect(err).NotTo(HaveOccurred())

	_, err = s.CompleteMultipartUpload(uploadID, []CompletedPart{
		{Number: 1, ETag: etag1},
		{Number: 3, ETag: etag3},
	})
	g.Expect(err).To(HaveOccurred())
}

func TestStore_AbortMultipartUploadRemovesStaging(t *testing.T) {
	g := NewWithT(t)
	s := newTestStore(t, nil)
	g.Expect(s.CreateBucket("bkt")).To(Succeed())
	uploadID, err := s.CreateMultipartUpload("bkt", "big.bin", "")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(s.AbortMultipartUpload(uploadID)).To(Succeed())

	_, err = s.ListParts(uploadID)
	g.Expect(err).To(HaveOccurred())
}

func TestStore_WebsiteModeResolvesIndexDocument(t *testing.T) {
	g := NewWithT(t)
	s := newTestStore(t, nil)
	g.Expect(s.CreateBucket("bkt")).To(Succeed())
	_, err := s.PutObject("bkt", "index.html", []byte("home"), "text/html", nil)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(s.SetWebsite("bkt", WebsiteConfig{IndexDocument: "index.html"})).To(Succeed())

	ws, ok := s.Website("bkt")
	g.Expect(ok).To(BeTrue())
	g.Expect(ResolveWebsiteKey(ws, "")).To(Equal("index.html"))
	g.Expect(ResolveWebsiteKey(ws, "docs/")).To(Equal("docs/index.html"))
	g.Expect(ResolveWebsiteKey(ws, "docs")).To(Equal("docs/index.html"))
	g.Expect(ResolveWebsiteKey(ws, "image.png")).To(Equal("image.png"))
}

func TestStore_BucketPolicyDefaultsToAllowAll(t *testing.T) {
	g := NewWithT(t)
	s := newTestStore(t, nil)
	g.Expect(s.CreateBucket("bkt")).To(Succeed())

	policy, err := s.Policy("bkt")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(policy).To(Equal(defaultBucketPolicy))

	g.Expect(s.SetPolicy("bkt", `{"custom":true}`)).To(Succeed())
	policy, err = s.Policy("bkt")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(policy).To(Equal(`{"custom":true}`))
}

func TestStore_PutObjectDispatchesNotification(t *testing.T) {
	g := NewWithT(t)
	notifier := &recordingNotifier{}
	s := newTestStore(t, notifier)
	g.Expect(s.CreateBucket("bkt")).To(Succeed())
	g.Expect(s.SetNotification("bkt", NotificationConfig{
		Targets: []NotificationTarget{{ARN: "arn:aws:sns:::topic", EventTypes: []string{"s3:ObjectCreated:*"}}},
	})).To(Succeed())

	_, err := s.PutObject("bkt", "k", []byte("v"), "", nil)
	g.Expect(err).NotTo(HaveOccurred())

	g.Eventually(notifier.count).Should(Equal(1))
}
