// mime.go — статическая таблица расширение → MIME-тип.
package engine

import (
	"path/filepath"
	"strings"
)

// extToMIME — статическая таблица соответствия расширений MIME-типам.
// Неизвестные расширения отображаются в generic binary.
var extToMIME = map[string]string{
	".csv":  "text/csv",
	".txt":  "text/plain",
	".json": "application/json",
	".xml":  "application/xml",
	".html": "text/html",
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".zip":  "application/zip",
	".gz":   "application/gzip",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// ContentTypeByExtension возвращает MIME-тип по расширению имени файла.
// Принимает как полное имя ("report.csv"), так и голое расширение (".csv").
// Для неизвестных расширений — application/octet-stream.
func ContentTypeByExtension(name string) string {
	ext := filepath.Ext(name)
	if ct, ok := extToMIME[strings.ToLower(ext)]; ok {
		return ct
	}
	return "application/octet-stream"
}
