package blobstore

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/clinic/referrals/internal/platform/apperr"
)

// MaxUploadSize is the largest accepted document (10 MB).
const MaxUploadSize = 10 * 1024 * 1024

const (
	typePDF  = "application/pdf"
	typeJPEG = "image/jpeg"
	typePNG  = "image/png"
	typeWebP = "image/webp"
	typeDoc  = "application/msword"
	typeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// AllowedContentTypes lists the document types staff may attach.
var AllowedContentTypes = map[string]bool{
	typePDF:  true,
	typeJPEG: true,
	typePNG:  true,
	typeWebP: true,
	typeDoc:  true,
	typeDocx: true,
}

// Office formats are containers; the sniffer may only see the container.
var containerOf = map[string]string{
	typeDoc:  "application/x-ole-storage",
	typeDocx: "application/zip",
}

const sniffLen = 3072

// Upload is a validated document ready to hand to a Store.
type Upload struct {
	ContentType string
	Size        int64
	Body        io.Reader
}

// PrepareUpload checks size and type, and verifies the declared content type
// against the leading bytes of r. An empty or generic declared type is
// replaced by the sniffed one.
func PrepareUpload(r io.Reader, declared string, size int64) (*Upload, error) {
	if size > MaxUploadSize {
		return nil, &apperr.StorageRejectedError{Reason: "File exceeds 10 MB limit."}
	}
	if size <= 0 {
		return nil, &apperr.StorageRejectedError{Reason: "File is empty."}
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]

	contentType, err := resolveContentType(declared, head)
	if err != nil {
		return nil, err
	}
	return &Upload{
		ContentType: contentType,
		Size:        size,
		Body:        io.MultiReader(bytes.NewReader(head), r),
	}, nil
}

func resolveContentType(declared string, head []byte) (string, error) {
	sniffed := mimetype.Detect(head)

	ct := normalize(declared)
	if ct == "" || ct == "application/octet-stream" {
		ct = normalize(sniffed.String())
	}
	if !AllowedContentTypes[ct] {
		return "", &apperr.StorageRejectedError{Reason: "Only PDF, images, and Word documents are allowed."}
	}

	for m := sniffed; m != nil; m = m.Parent() {
		if m.Is(ct) || (containerOf[ct] != "" && m.Is(containerOf[ct])) {
			return ct, nil
		}
	}
	return "", &apperr.StorageRejectedError{Reason: "File content does not match its declared type."}
}

func normalize(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}
