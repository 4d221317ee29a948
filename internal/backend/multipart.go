package backend

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"os"
	"strings"
)

// Upload names a local image file and the filename it is sent under.
type Upload struct {
	Path     string
	Filename string
}

type formField struct {
	name, value string
}

type formFile struct {
	field  string
	upload Upload
}

// Form collects text fields and image files for a multipart upload. Parts are
// written in the order they were added.
type Form struct {
	fields []formField
	files  []formFile
}

// AddField appends a text part.
func (f *Form) AddField(name, value string) {
	f.fields = append(f.fields, formField{name: name, value: value})
}

// AddFile appends a binary image part.
func (f *Form) AddFile(field string, upload Upload) {
	f.files = append(f.files, formFile{field: field, upload: upload})
}

// Encode writes the multipart body and returns it with its content type.
func (f *Form) Encode() (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for _, field := range f.fields {
		if err := writer.WriteField(field.name, field.value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", field.name, err)
		}
	}

	for _, file := range f.files {
		if err := writeImagePart(writer, file); err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeImagePart(writer *multipart.Writer, file formFile) error {
	src, err := os.Open(file.upload.Path)
	if err != nil {
		return fmt.Errorf("open image %s: %w", file.upload.Path, err)
	}
	defer src.Close()

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(file.field), quoteEscaper.Replace(file.upload.Filename)))
	header.Set("Content-Type", "image/jpeg")

	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create part %s: %w", file.field, err)
	}
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("copy image %s: %w", file.upload.Path, err)
	}
	return nil
}
