package script

import (
	"fmt"
	"io"
	"strings"
)

// WriteFaults writes one plain-text block per fault, in order.
func WriteFaults(w io.Writer, faults []RuntimeFault) error {
	for i, f := range faults {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintf(w, "Error code: %d\nMessage: %s\nSource file: %s\nFrom: %d,%d\nTill: %d,%d\n",
			f.Code, f.Message, f.File,
			f.Span.Start.Line, f.Span.Start.Column,
			f.Span.End.Line, f.Span.End.Column)
		if err != nil {
			return err
		}
	}
	return nil
}

// FormatFaults returns the text WriteFaults would write.
func FormatFaults(faults []RuntimeFault) string {
	var sb strings.Builder
	WriteFaults(&sb, faults)
	return sb.String()
}
