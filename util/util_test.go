package util

import (
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwise1/pothole_watch/util/values"
	"github.com/twpayne/go-polyline"
)

func TestPolyLineDecoder(t *testing.T) {
	encoded := "qlvcbAwspp~@}AxAwKfKcUhUoYbVq]|X{UtQgc@zZ_KrGoFjCwDrBsCpDw@fAuAxBcBpGuBlCgB|@qCPcCYQeDGmDR_Dh@gLBoKeAuPqCca@kEs`@kDcRkB}JkB}JqAoGa@oB}AyHyEmU}Pov@qLsj@aCwLoFoYoNku@sCwJ{A}FuIgMqIwHsFqA_FsCuEqF{CkHsAuIIaJpAeKhDuIpAyMFiMa@uJwA{JyFiXiCkLuEgQmOiq@c[wvAya@okBaDcO_Kae@o@wCaHub@aCoUiAiTa@yl@t@ol@jBce@rDua@lBqP~ByQzDe]rg@clEjDg_@nAuMd@eF~@sLlDuXrIgp@|UcpB`Jiy@~Dq`@`B{O|Iqu@jd@i~DnGsj@pIyt@vBmTdBsOnC}YrBaZpBaZl@yIh@sTLkJHcL?kB?eBYmb@EoCc@{TG{Dw@ie@cAiYk@cOgHgqAQkEyJ{fB_NmdCs@wMsAaQiDgt@i@iLqKksBeGsiAaEes@WkEO{CcDwm@WkFwDqo@s@gMkDgo@gT_~DsBk_@a@uHqC{g@]gGyHsmAqKyrAcAcMoVywCo@yHW{Cu@gJo@wMs@eOGwAuAyVwNovBs@wJuLgbBoAmO}Eom@IgA}BmZmB{VyAkRs@cJwJmoAma@gkFwW_iDcGwv@eH{}@sI{gAmRqdC}R_lCQeDiCqf@{AiUcBqNiCeHcDqFkCyAsBaCaB_Eq@wEBaFx@uEtA_DjAoHXuJCkTuB}Ww`@okFwg@_rGoSimC_@_F{AoRgCu\\_@{EkAwSqAkTEyNGaMVoN\\yFjEot@rJw_BBc@fIkjAhCcXl@aGl@mGrA}RTyH@}I_@iL]}@aKaAuCI}AJ}ElA}GhCmKzEwHpCaFvDyFhEcJjLeD`GoBjDeDzHyAhDaChIw@`DeE`QoEvMwDdI_H|JkJnL_MdLiRxRyq@ns@qZj[eTnWeDlDqNhOqDzDyInI"
	result, err := DecodePolyLines(encoded)
	if err != nil {
		t.Fatalf("Decoding returned error %v", err)
	}
	if len(result) == 0 {
		t.Fatal("decoded no coordinates")
	}
}

func TestPolyLineRoundTrip(t *testing.T) {
	coords := [][]float64{{37.5665, 126.978}, {37.5651, 126.9895}}
	got, err := DecodePolyLines(string(polyline.EncodeCoords(coords)))
	if err != nil {
		t.Fatalf("DecodePolyLines: %v", err)
	}
	if len(got) != 2 || math.Abs(got[1][0]-37.5651) > 1e-9 || math.Abs(got[1][1]-126.9895) > 1e-9 {
		t.Fatalf("decoded %v", got)
	}
}

func TestStatusCode(t *testing.T) {
	testCases := []struct {
		status string
		want   int
	}{
		{values.Success, http.StatusOK},
		{values.Created, http.StatusCreated},
		{values.BadRequestBody, http.StatusBadRequest},
		{values.NotFound, http.StatusNotFound},
		{values.NotAuthorised, http.StatusUnauthorized},
		{values.Unavailable, http.StatusServiceUnavailable},
		{values.Error, http.StatusInternalServerError},
		{"anything else", http.StatusOK},
	}

	for _, tc := range testCases {
		t.Run(tc.status, func(t *testing.T) {
			if got := StatusCode(tc.status); got != tc.want {
				t.Errorf("StatusCode(%q) = %d; want %d", tc.status, got, tc.want)
			}
		})
	}
}

func TestQueryInt(t *testing.T) {
	testCases := []struct {
		name    string
		query   string
		want    int
		wantErr bool
	}{
		{"absent", "", 100, false},
		{"set", "?limit=5", 5, false},
		{"negative", "?limit=-1", 0, true},
		{"garbage", "?limit=ten", 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/reports"+tc.query, nil)
			got, err := QueryInt(r, "limit", 100)
			if (err != nil) != tc.wantErr {
				t.Fatalf("QueryInt err = %v, wantErr %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("QueryInt = %d; want %d", got, tc.want)
			}
		})
	}
}

func TestValidateStructCoordinates(t *testing.T) {
	type point struct {
		Lat float64 `validate:"latitude"`
		Lon float64 `validate:"longitude"`
	}
	if err := ValidateStruct(point{Lat: 45, Lon: 170}); err != nil {
		t.Fatalf("valid point rejected: %v", err)
	}
	if err := ValidateStruct(point{Lat: -91, Lon: 0}); err == nil {
		t.Fatal("latitude -91 accepted")
	}
	if err := ValidateStruct(point{Lat: 0, Lon: 180.5}); err == nil {
		t.Fatal("longitude 180.5 accepted")
	}
}
