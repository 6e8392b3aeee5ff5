package vbdlis

import (
	"strconv"
	"strings"
	"time"
)

const sectionSeparator = "\n---\n"

// BuildCompact renders summary records as labelled Vietnamese text blocks.
// Empty fields are omitted; multiple owners/parcels/assets are joined with
// "---" separators.
func BuildCompact(records []SummaryRecord) []CompactRecord {
	out := make([]CompactRecord, 0, len(records))
	for _, r := range records {
		out = append(out, CompactRecord{
			GiayChungNhanID:      r.GiayChungNhanID,
			ChuSuDungCompact:     compactOwners(r.ChuSoHuu),
			GiayChungNhanCompact: compactCertificate(r.SoPhatHanh, r.SoVaoSo, r.NgayVaoSo),
			ThuaDatCompact:       compactThuaDat(r.ThuaDat),
			TaiSanCompact:        compactTaiSan(r.TaiSan),
		})
	}
	return out
}

func compactOwners(owners []OwnerSummary) string {
	sections := make([]string, 0, len(owners))
	for _, o := range owners {
		var lines []string
		appendLine(&lines, "Họ tên", o.HoTen)
		appendLine(&lines, "Số giấy tờ", o.SoGiayTo)
		appendLine(&lines, "Địa chỉ", o.DiaChi)
		if len(lines) > 0 {
			sections = append(sections, strings.Join(lines, "\n"))
		}
	}
	return strings.Join(sections, sectionSeparator)
}

func compactCertificate(soPhatHanh, soVaoSo, ngayVaoSo string) string {
	var lines []string
	appendLine(&lines, "Số phát hành", soPhatHanh)
	appendLine(&lines, "Số vào sổ", soVaoSo)
	appendLine(&lines, "Ngày vào sổ", FormatNgayVaoSo(ngayVaoSo))
	return strings.Join(lines, "\n")
}

func compactThuaDat(parcels []ThuaDatSummary) string {
	sections := make([]string, 0, len(parcels))
	for _, p := range parcels {
		var lines []string
		appendLine(&lines, "Tờ bản đồ số", p.SoTo)
		appendLine(&lines, "Thửa đất số", p.SoThua)
		if p.DienTich != "" {
			lines = append(lines, "Diện tích: "+p.DienTich+" m²")
		}
		appendLine(&lines, "Mục đích sử dụng", p.MucDichSuDung)
		appendLine(&lines, "Địa chỉ", p.DiaChi)
		if len(lines) > 0 {
			sections = append(sections, strings.Join(lines, "\n"))
		}
	}
	return strings.Join(sections, sectionSeparator)
}

func compactTaiSan(assets []TaiSanSummary) string {
	sections := make([]string, 0, len(assets))
	for _, a := range assets {
		var lines []string
		appendLine(&lines, "Tên tài sản", a.TenTaiSan)
		if a.DienTichXayDung != "" {
			lines = append(lines, "Diện tích xây dựng: "+a.DienTichXayDung+" m²")
		}
		if a.DienTichSuDung != "" {
			lines = append(lines, "Diện tích sử dụng: "+a.DienTichSuDung+" m²")
		}
		appendLine(&lines, "Số tầng", a.SoTang)
		appendLine(&lines, "Số hiệu căn hộ", a.SoHieuCanHo)
		appendLine(&lines, "Tờ bản đồ số", a.SoTo)
		appendLine(&lines, "Thửa đất số", a.SoThua)
		appendLine(&lines, "Địa chỉ", a.DiaChi)
		if len(lines) > 0 {
			sections = append(sections, strings.Join(lines, "\n"))
		}
	}
	return strings.Join(sections, sectionSeparator)
}

func appendLine(lines *[]string, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	*lines = append(*lines, label+": "+value)
}

// FormatNgayVaoSo renders the portal's registration date as dd/MM/yyyy. The
// portal emits either an ASP.NET "/Date(milliseconds)/" wrapper or a plain
// date string. Dates before 1900 are placeholder values and render empty.
func FormatNgayVaoSo(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	cutoff := time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

	if strings.HasPrefix(raw, "/Date(") && strings.HasSuffix(raw, ")/") {
		ms, err := strconv.ParseInt(raw[len("/Date(") : len(raw)-len(")/")], 10, 64)
		if err == nil {
			t := time.UnixMilli(ms).UTC()
			if !t.Before(cutoff) {
				return t.Format("02/01/2006")
			}
		}
		return ""
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02", "02/01/2006"} {
		if t, err := time.Parse(layout, raw); err == nil {
			if !t.Before(cutoff) {
				return t.Format("02/01/2006")
			}
			return ""
		}
	}
	return ""
}
