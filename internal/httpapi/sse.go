package httpapi

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/cspellhq/hivenode/internal/models"
)

// sseEncoder writes models.JSONPatch values as Server-Sent Events frames.
type sseEncoder struct {
	w io.Writer
}

func newSSEEncoder(w io.Writer) *sseEncoder {
	return &sseEncoder{w: w}
}

func (e *sseEncoder) Write(patch models.JSONPatch) error {
	data, err := json.Marshal(patch)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(e.w, "data: %s\n\n", data)
	return err
}
