// Package httpclient builds one instrumented *http.Client per configured
// partner service.
package httpclient
