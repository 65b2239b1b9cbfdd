// Package models holds the records that flow between the local store, the
// mutation queue and the backend.
package models
