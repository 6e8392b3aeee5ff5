package vbdlis

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	searchPagePath = "CungCapThongTinGiayChungNhan/Index"
	searchAjaxPath = "CungCapThongTinGiayChungNhanAjax/AdvancedSearchGiayChungNhan"
)

// resolveServerURL picks the request's server override or the configured
// base, validating it parses as an absolute URL.
func resolveServerURL(override, base string) (string, error) {
	selected := strings.TrimSpace(override)
	if selected == "" {
		selected = base
	}
	u, err := url.Parse(selected)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("%w: invalid server URL %q", ErrConfiguration, selected)
	}
	return selected, nil
}

// serverHost extracts the host (without port) for session keying.
func serverHost(serverURL string) string {
	u, err := url.Parse(serverURL)
	if err != nil {
		return serverURL
	}
	return u.Hostname()
}

// portalRoot reduces any server URL to the portal's application root:
// scheme://host[:port]/dc. The portal serves everything under /dc regardless
// of what path the caller supplied.
func portalRoot(serverURL string) string {
	u, err := url.Parse(serverURL)
	if err != nil {
		return strings.TrimRight(serverURL, "/") + "/dc"
	}
	root := u.Scheme + "://" + u.Host
	return root + "/dc"
}

func searchPageURL(serverURL string) string {
	return portalRoot(serverURL) + "/" + searchPagePath
}

func advancedSearchURL(serverURL string) string {
	return portalRoot(serverURL) + "/" + searchAjaxPath
}

// buildSearchPayload renders the DataTables form body the portal's
// advanced-search endpoint expects. Only soGiayTo and tinhId vary; the rest
// mirrors what the portal's own search page posts.
func buildSearchPayload(soGiayTo string, tinhID int) string {
	if tinhID <= 0 {
		tinhID = 24
	}

	var b strings.Builder
	b.WriteString("draw=2&")
	for i, col := range []string{"", "GiayChungNhan", "ChuSoHuu", "TaiSan"} {
		b.WriteString(fmt.Sprintf("columns%%5B%d%%5D%%5Bdata%%5D=%s&", i, col))
		b.WriteString(fmt.Sprintf("columns%%5B%d%%5D%%5Bname%%5D=%s&", i, col))
		b.WriteString(fmt.Sprintf("columns%%5B%d%%5D%%5Bsearchable%%5D=true&", i))
		b.WriteString(fmt.Sprintf("columns%%5B%d%%5D%%5Borderable%%5D=false&", i))
		b.WriteString(fmt.Sprintf("columns%%5B%d%%5D%%5Bsearch%%5D%%5Bvalue%%5D=&", i))
		b.WriteString(fmt.Sprintf("columns%%5B%d%%5D%%5Bsearch%%5D%%5Bregex%%5D=false&", i))
	}
	b.WriteString("start=0&")
	b.WriteString("length=10&")
	b.WriteString("search%5Bvalue%5D=&")
	b.WriteString("search%5Bregex%5D=false&")
	b.WriteString("isAdvancedSearch=true&")
	fmt.Fprintf(&b, "tinhId=%d&", tinhID)
	b.WriteString("xaId=0&")
	b.WriteString("huyenId=0&")
	b.WriteString("timChinhXac=true&")
	b.WriteString("andOperator=false&")
	b.WriteString("loaiGiayChungNhanId=&")
	b.WriteString("maVach=&")
	b.WriteString("soPhatHanh=&")
	b.WriteString("soVaoSo=&")
	b.WriteString("soHoSoGoc=&")
	b.WriteString("soHoSoGocCu=&")
	b.WriteString("soVaoSoCu=&")
	b.WriteString("hoTen=&")
	b.WriteString("namSinh=&")
	fmt.Fprintf(&b, "soGiayTo=%s&", url.QueryEscape(soGiayTo))
	b.WriteString("soThuTuThua=&")
	b.WriteString("soHieuToBanDo=&")
	b.WriteString("soThuTuThuaCu=&")
	b.WriteString("soHieuToBanDoCu=&")
	b.WriteString("soNha=&")
	b.WriteString("diaChiChiTiet=")
	return b.String()
}

// searchScript posts the form payload from page context through the portal's
// own jQuery, so the request carries the session's cookies and headers. A
// transport failure resolves to an object whose statusText marks the error.
const searchScript = `async (targetUrl, formPayload) => {
	if (typeof $ === 'undefined' || typeof $.ajax === 'undefined') {
		return JSON.stringify({ statusText: 'error', error: 'jQuery not available on page' });
	}

	return await new Promise((resolve) => {
		$.ajax({
			url: targetUrl,
			type: 'POST',
			data: formPayload,
			contentType: 'application/x-www-form-urlencoded; charset=UTF-8',
			timeout: 120000,
			success: function(data) {
				resolve(typeof data === 'object' ? JSON.stringify(data) : data);
			},
			error: function(xhr, status, error) {
				resolve(JSON.stringify({
					statusText: status,
					error: error,
					status: xhr.status,
					responseText: xhr.responseText
				}));
			}
		});
	});
}`
