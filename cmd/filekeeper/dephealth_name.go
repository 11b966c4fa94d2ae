// dephealth_name.go — определение имени вершины графа зависимостей.
// Если DEPHEALTH_NAME не задан, имя выводится из hostname пода:
// отбрасываются суффиксы, которые Kubernetes добавляет к имени
// Deployment (replicaset hash + pod hash) или StatefulSet (ordinal).
package main

import (
	"os"
	"regexp"
	"strings"
)

var (
	// Deployment: <owner>-<replicaset-hash 8-10 алфацифр>-<pod-hash 5 алфацифр>
	deploymentSuffix = regexp.MustCompile(`^(.+)-[a-f0-9]{8,10}-[a-z0-9]{5}$`)
	// StatefulSet: <owner>-<ordinal>
	statefulSetSuffix = regexp.MustCompile(`^(.+)-\d+$`)
)

// parseOwnerName извлекает имя владельца пода из hostname.
// Для нераспознанных форматов возвращает hostname как есть.
func parseOwnerName(hostname string) string {
	if m := deploymentSuffix.FindStringSubmatch(hostname); m != nil {
		return m[1]
	}
	if m := statefulSetSuffix.FindStringSubmatch(hostname); m != nil {
		return m[1]
	}
	return hostname
}

// ownerNameFromHostname возвращает имя вершины графа из hostname пода.
func ownerNameFromHostname() string {
	hostname, err := os.Hostname()
	if err != nil || strings.TrimSpace(hostname) == "" {
		return "filekeeper"
	}
	return parseOwnerName(hostname)
}
