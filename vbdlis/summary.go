package vbdlis

import (
	"fmt"
	"strconv"
	"strings"
)

// ExtractSummary walks the portal's generic response tree and pulls out one
// SummaryRecord per certificate. The portal's field set is loosely typed
// (numbers sometimes arrive as strings and vice versa), so all extraction
// goes through treeString.
func ExtractSummary(root map[string]any) []SummaryRecord {
	data, ok := root["data"].([]any)
	if !ok {
		return []SummaryRecord{}
	}

	records := make([]SummaryRecord, 0, len(data))
	for _, node := range data {
		obj, ok := node.(map[string]any)
		if !ok {
			continue
		}

		gcn, _ := obj["GiayChungNhan"].(map[string]any)
		id := treeString(gcn, "Id")
		if id == "" {
			id = treeString(gcn, "giayChungNhanId")
		}

		records = append(records, SummaryRecord{
			GiayChungNhanID: id,
			SoPhatHanh:      treeString(gcn, "soPhatHanh"),
			SoVaoSo:         treeString(gcn, "soVaoSo"),
			NgayVaoSo:       treeString(gcn, "ngayVaoSo"),
			ChuSoHuu:        extractOwners(obj["ChuSoHuu"]),
			ThuaDat:         extractThuaDat(obj),
			TaiSan:          extractTaiSan(obj["TaiSan"]),
		})
	}
	return records
}

func extractOwners(node any) []OwnerSummary {
	arr, ok := node.([]any)
	if !ok {
		return []OwnerSummary{}
	}
	owners := make([]OwnerSummary, 0, len(arr))
	for _, n := range arr {
		obj, ok := n.(map[string]any)
		if !ok {
			continue
		}
		owners = append(owners, OwnerSummary{
			HoTen:    treeString(obj, "hoTen"),
			SoGiayTo: treeString(obj, "soGiayTo"),
			DiaChi:   treeString(obj, "diaChi"),
		})
	}
	return owners
}

// extractThuaDat collects parcels from two places: the asset list (which
// carries parcel coordinates without area) and the certificate's registered
// rights (which carry area and land-use purpose). Entries are deduplicated
// on the full field tuple, case-insensitively.
func extractThuaDat(obj map[string]any) []ThuaDatSummary {
	var out []ThuaDatSummary
	seen := make(map[string]struct{})

	add := func(soTo, soThua, diaChi, dienTich, mucDich string) {
		if soTo == "" && soThua == "" && diaChi == "" && dienTich == "" && mucDich == "" {
			return
		}
		key := strings.ToLower(strings.Join([]string{soTo, soThua, diaChi, dienTich, mucDich}, "|"))
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, ThuaDatSummary{
			SoTo:          soTo,
			SoThua:        soThua,
			DiaChi:        diaChi,
			DienTich:      dienTich,
			MucDichSuDung: mucDich,
		})
	}

	if taiSan, ok := obj["TaiSan"].([]any); ok {
		for _, n := range taiSan {
			ts, ok := n.(map[string]any)
			if !ok {
				continue
			}
			add(treeString(ts, "soHieuToBanDo"), treeString(ts, "soThuTuThua"), treeString(ts, "diaChi"), "", "")
		}
	}

	gcn, _ := obj["GiayChungNhan"].(map[string]any)
	if rights, ok := gcn["ListDangKyQuyen"].([]any); ok {
		for _, n := range rights {
			dkq, ok := n.(map[string]any)
			if !ok {
				continue
			}
			td, ok := dkq["ThuaDat"].(map[string]any)
			if !ok {
				continue
			}
			mucDich := treeString(td, "mucDichSuDungGhep")
			if mucDich == "" {
				mucDich = treeString(td, "maThua")
			}
			add(treeString(td, "soHieuToBanDo"), treeString(td, "soThuTuThua"),
				treeString(td, "diaChi"), treeString(td, "dienTich"), mucDich)
		}
	}

	if out == nil {
		out = []ThuaDatSummary{}
	}
	return out
}

func extractTaiSan(node any) []TaiSanSummary {
	arr, ok := node.([]any)
	if !ok {
		return []TaiSanSummary{}
	}

	out := make([]TaiSanSummary, 0, len(arr))
	seen := make(map[string]struct{})
	for _, n := range arr {
		obj, ok := n.(map[string]any)
		if !ok {
			continue
		}
		ts := TaiSanSummary{
			TenTaiSan:       treeString(obj, "tenTaiSan"),
			SoTo:            treeString(obj, "soHieuToBanDo"),
			SoThua:          treeString(obj, "soThuTuThua"),
			DiaChi:          treeString(obj, "diaChi"),
			SoHieuCanHo:     treeString(obj, "soHieuCanHo"),
			DienTichXayDung: treeString(obj, "dienTichXayDung"),
			DienTichSuDung:  treeString(obj, "dienTichSuDung"),
			SoTang:          treeString(obj, "soTang"),
		}
		key := strings.ToLower(strings.Join([]string{
			ts.TenTaiSan, ts.SoTo, ts.SoThua, ts.DiaChi,
			ts.SoHieuCanHo, ts.DienTichXayDung, ts.DienTichSuDung, ts.SoTang,
		}, "|"))
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ts)
	}
	return out
}

// treeString reads obj[key] as a display string. Numbers are rendered
// without a float exponent; whole floats drop the fraction (encoding/json
// decodes all JSON numbers as float64).
func treeString(obj map[string]any, key string) string {
	if obj == nil {
		return ""
	}
	switch v := obj[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
