package events

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// WriteSSE serializes one event as a server-sent-events frame:
//
//	event: {type}
//	data: {json}
//
// followed by a blank line. The payload is the event's full JSON form.
func WriteSSE(w io.Writer, e Event) error {
	b := e.Payload()
	if len(b) == 0 {
		var err error
		b, err = json.Marshal(e)
		if err != nil {
			return errors.Wrap(err, "marshal event for sse")
		}
	}
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type(), b)
	return errors.Wrap(err, "write sse frame")
}
