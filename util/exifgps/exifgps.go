// Package exifgps reads the capture position embedded in photo EXIF data.
package exifgps

import (
	"errors"
	"fmt"
	"math"

	exif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
)

var ErrNoGPS = errors.New("image carries no GPS position")

// Position returns the latitude and longitude of the GPS IFD in image.
func Position(image []byte) (lat, lon float64, err error) {
	defer func() {
		// go-exif panics on some malformed segments
		if r := recover(); r != nil {
			lat, lon, err = 0, 0, fmt.Errorf("%w: malformed exif: %v", ErrNoGPS, r)
		}
	}()

	rawExif, err := exif.SearchAndExtractExif(image)
	if err != nil || rawExif == nil {
		return 0, 0, ErrNoGPS
	}

	im, err := exifcommon.NewIfdMappingWithStandard()
	if err != nil {
		return 0, 0, err
	}
	ti := exif.NewTagIndex()

	_, index, err := exif.Collect(im, ti, rawExif)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrNoGPS, err)
	}

	gpsIfd, err := index.RootIfd.ChildWithIfdPath(exifcommon.IfdGpsInfoStandardIfdIdentity)
	if err != nil {
		return 0, 0, ErrNoGPS
	}
	gi, err := gpsIfd.GpsInfo()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrNoGPS, err)
	}

	lat, lon = gi.Latitude.Decimal(), gi.Longitude.Decimal()
	if !valid(lat, lon) {
		return 0, 0, fmt.Errorf("%w: out of range %f,%f", ErrNoGPS, lat, lon)
	}
	return lat, lon, nil
}

func valid(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	if lat == 0 && lon == 0 {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
