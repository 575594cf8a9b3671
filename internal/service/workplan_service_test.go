package service

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/siteops/site-entry-api/pkg/config"
	appErrors "github.com/siteops/site-entry-api/pkg/errors"
	"github.com/siteops/site-entry-api/pkg/storage"
)

func uploadHeader(t *testing.T, filename string, content []byte, contentType string) *multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	_, header, err := req.FormFile("file")
	require.NoError(t, err)
	return header
}

func newWorkPlanFixture(t *testing.T) (*WorkPlanService, *auditStub) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", 0)
	audit := &auditStub{}
	svc := NewWorkPlanService(store, signer, config.WorkPlansConfig{
		MaxFileSizeBytes: 1024,
		AllowedMIMEs:     []string{"application/pdf"},
	}, audit, nil)
	return svc, audit
}

var pdfContent = []byte("%PDF-1.4 minimal work plan body")

func TestWorkPlanUploadAndDownloadRoundTrip(t *testing.T) {
	svc, audit := newWorkPlanFixture(t)

	doc, err := svc.Upload(context.Background(), uploadHeader(t, "plan.pdf", pdfContent, "application/pdf"), "user-mid")
	require.NoError(t, err)
	require.True(t, len(doc.Ref) > len("doc://"))
	require.Equal(t, "application/pdf", doc.ContentType)
	require.True(t, svc.Resolvable(doc.Ref))
	require.Len(t, audit.logs, 1)

	signed, err := svc.SignedDownloadURL(doc.Ref)
	require.NoError(t, err)

	file, name, err := svc.OpenByToken(signed.Token)
	require.NoError(t, err)
	defer file.Close()
	require.NotEmpty(t, name)

	buf := make([]byte, len(pdfContent))
	_, err = file.Read(buf)
	require.NoError(t, err)
	require.Equal(t, pdfContent, buf)
}

func TestWorkPlanUploadRejectsDisallowedType(t *testing.T) {
	svc, _ := newWorkPlanFixture(t)

	_, err := svc.Upload(context.Background(), uploadHeader(t, "plan.html", []byte("<html><body>plan</body></html>"), "text/html"), "user-mid")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestWorkPlanUploadRejectsOversizedFile(t *testing.T) {
	svc, _ := newWorkPlanFixture(t)

	big := append([]byte("%PDF-1.4 "), bytes.Repeat([]byte("x"), 2048)...)
	_, err := svc.Upload(context.Background(), uploadHeader(t, "plan.pdf", big, "application/pdf"), "user-mid")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestWorkPlanResolvable(t *testing.T) {
	svc, _ := newWorkPlanFixture(t)

	// External references are opaque and accepted.
	require.True(t, svc.Resolvable("https://example.com/plans/7"))

	require.False(t, svc.Resolvable("doc://missing.pdf"))
	require.False(t, svc.Resolvable("doc://"))
	require.False(t, svc.Resolvable("doc://../escape.pdf"))
}

func TestWorkPlanOpenByTokenRejectsTampering(t *testing.T) {
	svc, _ := newWorkPlanFixture(t)

	doc, err := svc.Upload(context.Background(), uploadHeader(t, "plan.pdf", pdfContent, "application/pdf"), "user-mid")
	require.NoError(t, err)

	signed, err := svc.SignedDownloadURL(doc.Ref)
	require.NoError(t, err)

	_, _, err = svc.OpenByToken(signed.Token + "x")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
