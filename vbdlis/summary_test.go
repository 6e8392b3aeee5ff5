package vbdlis

import (
	"encoding/json"
	"testing"
)

const sampleResponse = `{
	"recordsTotal": 1,
	"recordsFiltered": 1,
	"data": [
		{
			"GiayChungNhan": {
				"Id": "gcn-001",
				"soPhatHanh": "BX 012345",
				"soVaoSo": "CS 00123",
				"ngayVaoSo": "/Date(1600000000000)/",
				"ListDangKyQuyen": [
					{
						"ThuaDat": {
							"soHieuToBanDo": "12",
							"soThuTuThua": "34",
							"diaChi": "Thôn 1, Xã A",
							"dienTich": "120.5",
							"mucDichSuDungGhep": "ODT"
						}
					},
					{
						"ThuaDat": {
							"soHieuToBanDo": "12",
							"soThuTuThua": "34",
							"diaChi": "Thôn 1, Xã A",
							"dienTich": "120.5",
							"mucDichSuDungGhep": "ODT"
						}
					}
				]
			},
			"ChuSoHuu": [
				{"hoTen": "Nguyễn Văn A", "soGiayTo": "012345678", "diaChi": "Xã A, Huyện B"},
				{"hoTen": "Trần Thị B", "soGiayTo": "087654321", "diaChi": "Xã A, Huyện B"}
			],
			"TaiSan": [
				{
					"tenTaiSan": "Nhà ở",
					"soHieuToBanDo": "12",
					"soThuTuThua": "34",
					"diaChi": "Thôn 1, Xã A",
					"dienTichXayDung": "80",
					"dienTichSuDung": "160",
					"soTang": 2
				},
				{
					"tenTaiSan": "Nhà ở",
					"soHieuToBanDo": "12",
					"soThuTuThua": "34",
					"diaChi": "Thôn 1, Xã A",
					"dienTichXayDung": "80",
					"dienTichSuDung": "160",
					"soTang": 2
				}
			]
		}
	]
}`

func decodeSample(t *testing.T) map[string]any {
	t.Helper()
	var obj map[string]any
	if err := json.Unmarshal([]byte(sampleResponse), &obj); err != nil {
		t.Fatal(err)
	}
	return obj
}

func TestExtractSummary(t *testing.T) {
	records := ExtractSummary(decodeSample(t))
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}

	r := records[0]
	if r.GiayChungNhanID != "gcn-001" || r.SoPhatHanh != "BX 012345" || r.SoVaoSo != "CS 00123" {
		t.Fatalf("certificate fields = %+v", r)
	}
	if len(r.ChuSoHuu) != 2 {
		t.Fatalf("got %d owners, want 2", len(r.ChuSoHuu))
	}
	if r.ChuSoHuu[0].HoTen != "Nguyễn Văn A" || r.ChuSoHuu[0].SoGiayTo != "012345678" {
		t.Fatalf("owner = %+v", r.ChuSoHuu[0])
	}
}

func TestExtractSummaryDedupesParcels(t *testing.T) {
	records := ExtractSummary(decodeSample(t))
	parcels := records[0].ThuaDat

	// The asset list contributes one coordinates-only parcel; the duplicated
	// registered rights collapse into one full parcel.
	if len(parcels) != 2 {
		t.Fatalf("got %d parcels, want 2: %+v", len(parcels), parcels)
	}
	var full *ThuaDatSummary
	for i := range parcels {
		if parcels[i].DienTich != "" {
			full = &parcels[i]
		}
	}
	if full == nil {
		t.Fatal("no parcel carried area from the registered rights")
	}
	if full.SoTo != "12" || full.SoThua != "34" || full.DienTich != "120.5" || full.MucDichSuDung != "ODT" {
		t.Fatalf("parcel = %+v", *full)
	}
}

func TestExtractSummaryDedupesAssets(t *testing.T) {
	records := ExtractSummary(decodeSample(t))
	assets := records[0].TaiSan
	if len(assets) != 1 {
		t.Fatalf("got %d assets, want 1 after dedup: %+v", len(assets), assets)
	}
	a := assets[0]
	if a.TenTaiSan != "Nhà ở" || a.SoTang != "2" || a.DienTichXayDung != "80" {
		t.Fatalf("asset = %+v", a)
	}
}

func TestExtractSummaryEmptyTree(t *testing.T) {
	if got := ExtractSummary(map[string]any{}); len(got) != 0 {
		t.Fatalf("got %d records from an empty tree", len(got))
	}
	if got := ExtractSummary(map[string]any{"data": "not an array"}); len(got) != 0 {
		t.Fatalf("got %d records from a malformed tree", len(got))
	}
}

func TestTreeString(t *testing.T) {
	obj := map[string]any{
		"s": "text",
		"i": float64(42),
		"f": 1.5,
		"b": true,
	}
	tests := []struct{ key, want string }{
		{"s", "text"},
		{"i", "42"},
		{"f", "1.5"},
		{"b", "true"},
		{"missing", ""},
	}
	for _, tt := range tests {
		if got := treeString(obj, tt.key); got != tt.want {
			t.Errorf("treeString(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
	if got := treeString(nil, "x"); got != "" {
		t.Errorf("treeString(nil) = %q", got)
	}
}
