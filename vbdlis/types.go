package vbdlis

import (
	"encoding/json"
	"time"
)

// Mode selects how much of the portal's response is returned per result.
type Mode string

const (
	// ModeFull returns the portal's raw response object untouched.
	ModeFull Mode = "full"
	// ModeSummary returns the extracted certificate/owner/parcel/asset records.
	ModeSummary Mode = "summary"
	// ModeCompact returns summary records rendered as labelled text blocks.
	ModeCompact Mode = "compact"
)

// normalized maps unknown or empty modes to the summary default.
func (m Mode) normalized() Mode {
	switch m {
	case ModeFull, ModeCompact:
		return m
	default:
		return ModeSummary
	}
}

// BatchRequest is one batch of certificate-number lookups under a single
// portal identity.
type BatchRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`

	// Server overrides the configured portal base URL.
	Server string `json:"server,omitempty"`

	// SoGiayToList holds the document numbers to search; normalized
	// (trimmed, deduplicated, empties dropped) before execution.
	SoGiayToList []string `json:"soGiayToList"`

	// TinhID is the province filter. Zero uses the configured default.
	TinhID int `json:"tinhId,omitempty"`

	Mode Mode `json:"responseMode,omitempty"`

	// Headless overrides the configured browser visibility when set.
	Headless *bool `json:"headless,omitempty"`

	// MaxAgeDays bounds how old a cached result may be before the portal is
	// queried again. Zero uses the configured default; negative forces a
	// refresh.
	MaxAgeDays int `json:"maxAgeDays,omitempty"`

	// Refresh bypasses cache reads entirely and re-queries the portal.
	Refresh bool `json:"refresh,omitempty"`
}

// ResultItem is the outcome for one requested document number. Items are
// independent: a failed item never aborts its siblings.
type ResultItem struct {
	SoGiayTo        string          `json:"soGiayTo"`
	Success         bool            `json:"success"`
	Error           string          `json:"error,omitempty"`
	RecordsTotal    *int            `json:"recordsTotal,omitempty"`
	RecordsFiltered *int            `json:"recordsFiltered,omitempty"`
	FullData        json.RawMessage `json:"fullData,omitempty"`
	SummaryData     []SummaryRecord `json:"summaryData,omitempty"`
	CompactData     []CompactRecord `json:"compactData,omitempty"`
}

// BatchResponse is returned by Search: one ResultItem per normalized key.
type BatchResponse struct {
	RequestedAt time.Time    `json:"requestedAt"`
	Mode        Mode         `json:"mode"`
	Results     []ResultItem `json:"results"`
}

// SummaryRecord is one land-use certificate with its owners, parcels and
// assets extracted from the portal's response tree.
type SummaryRecord struct {
	GiayChungNhanID string           `json:"giayChungNhanId,omitempty"`
	SoPhatHanh      string           `json:"soPhatHanh,omitempty"`
	SoVaoSo         string           `json:"soVaoSo,omitempty"`
	NgayVaoSo       string           `json:"ngayVaoSo,omitempty"`
	ChuSoHuu        []OwnerSummary   `json:"chuSoHuu"`
	ThuaDat         []ThuaDatSummary `json:"thuaDat"`
	TaiSan          []TaiSanSummary  `json:"taiSan"`
}

// OwnerSummary is one certificate holder.
type OwnerSummary struct {
	HoTen    string `json:"hoTen,omitempty"`
	SoGiayTo string `json:"soGiayTo,omitempty"`
	DiaChi   string `json:"diaChi,omitempty"`
}

// ThuaDatSummary is one land parcel, deduplicated across the asset list and
// the certificate's registered rights.
type ThuaDatSummary struct {
	SoTo          string `json:"soTo,omitempty"`
	SoThua        string `json:"soThua,omitempty"`
	DiaChi        string `json:"diaChi,omitempty"`
	DienTich      string `json:"dienTich,omitempty"`
	MucDichSuDung string `json:"mucDichSuDung,omitempty"`
}

// TaiSanSummary is one attached asset (house, apartment, construction).
type TaiSanSummary struct {
	TenTaiSan       string `json:"tenTaiSan,omitempty"`
	SoTo            string `json:"soTo,omitempty"`
	SoThua          string `json:"soThua,omitempty"`
	DiaChi          string `json:"diaChi,omitempty"`
	SoHieuCanHo     string `json:"soHieuCanHo,omitempty"`
	DienTichXayDung string `json:"dienTichXayDung,omitempty"`
	DienTichSuDung  string `json:"dienTichSuDung,omitempty"`
	SoTang          string `json:"soTang,omitempty"`
}

// CompactRecord renders one SummaryRecord as labelled Vietnamese text blocks,
// sections joined by "---" separators.
type CompactRecord struct {
	GiayChungNhanID      string `json:"giayChungNhanId,omitempty"`
	ChuSuDungCompact     string `json:"chuSuDungCompact"`
	GiayChungNhanCompact string `json:"giayChungNhanCompact"`
	ThuaDatCompact       string `json:"thuaDatCompact"`
	TaiSanCompact        string `json:"taiSanCompact"`
}
