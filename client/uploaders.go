package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
)

type ImageType string

const (
	InputImageType  ImageType = "input"
	TempImageType   ImageType = "temp"
	OutputImageType ImageType = "output"
)

// UploadFromReader uploads an asset (image or video) to the server and
// returns the name the server stored it under. The server may pick a
// different name than the one requested.
func (c *ComfyClient) UploadFromReader(r io.Reader, filename string, overwrite bool, filetype ImageType) (string, error) {
	// Create a buffer to store the request body
	var requestBody bytes.Buffer

	// Create a multipart writer to wrap the file (like FormData)
	writer := multipart.NewWriter(&requestBody)

	// Create a form-file for the asset and copy the data into it
	formFile, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return "", err
	}
	_, err = io.Copy(formFile, r)
	if err != nil {
		return "", err
	}

	_ = writer.WriteField("overwrite", fmt.Sprintf("%v", overwrite))
	_ = writer.WriteField("type", fmt.Sprintf("%v", filetype))

	// Close the writer to finalize the body content
	writer.Close()

	req, err := http.NewRequest("POST", fmt.Sprintf("http://%s/upload/image", c.serverBaseAddress), &requestBody)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpclient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("error: %d - %s", resp.StatusCode, resp.Status)
	}

	// Decode the JSON response
	var data map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", err
	}

	// The actual name chosen server side may differ from the filename we
	// provided; the data field also contains the given type and subfolder,
	// but we already know those
	name, ok := data["name"].(string)
	if !ok {
		return "", fmt.Errorf("invalid response format")
	}
	return name, nil
}

// UploadFromPath uploads a local file under the given remote name.
func (c *ComfyClient) UploadFromPath(filePath string, name string, overwrite bool, filetype ImageType) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	return c.UploadFromReader(file, name, overwrite, filetype)
}
