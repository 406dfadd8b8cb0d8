package util

import (
	"fmt"
	"log"
	"strings"

	"github.com/twpayne/go-polyline"
)

func NotBlank(value string) bool {
	return strings.TrimSpace(value) != ""
}

// DecodePolyLines decodes a precision-5 encoded polyline into [lat, lon] pairs.
func DecodePolyLines(shape string) ([][]float64, error) {
	decoded, rest, err := polyline.DecodeCoords([]byte(shape))
	if err != nil {
		log.Println("error decoding polyline: ", err)
		return nil, fmt.Errorf("failed to decode polyline %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("failed to decode polyline: %d trailing bytes", len(rest))
	}
	return decoded, nil
}
