// Package store holds the encrypted S3 archival backend: a best-effort,
// asynchronous copy of a finished or terminated upload's data to cold
// storage. It never participates in the tus state machine; the Files
// Manager and Protocol Handler know nothing about it.
package store

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3PutObjectAPI is the narrow slice of the S3 client the Archiver needs.
// Defining it locally, rather than depending on the full s3.Client, keeps
// the archiver mockable without pulling in the whole SDK surface.
type S3PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver encrypts finished or terminated uploads and ships them to S3.
type Archiver struct {
	Bucket string
	Client S3PutObjectAPI

	block cipher.Block
	sem   Semaphore
}

// NewArchiver derives an AES-256 key from passphrase by hashing it with
// SHA-512 and taking the first 32 bytes, and bounds concurrent uploads to
// maxConcurrent.
func NewArchiver(bucket string, client S3PutObjectAPI, passphrase string, maxConcurrent int) (*Archiver, error) {
	hashed := sha512.Sum512([]byte(passphrase))
	block, err := aes.NewCipher(hashed[:32])
	if err != nil {
		return nil, fmt.Errorf("build cipher: %w", err)
	}

	return &Archiver{
		Bucket: bucket,
		Client: client,
		block:  block,
		sem:    NewSemaphore(maxConcurrent),
	}, nil
}

// Archive encrypts data under a fresh random IV, prefixes the IV to the
// ciphertext, and uploads the result to key id in the configured bucket.
// It blocks on the archiver's semaphore, so callers normally invoke it
// from its own goroutine.
func (a *Archiver) Archive(ctx context.Context, id string, data []byte) error {
	a.sem.Acquire()
	defer a.sem.Release()

	iv := make([]byte, a.block.BlockSize())
	if _, err := rand.Read(iv); err != nil {
		return fmt.Errorf("generate iv: %w", err)
	}

	ciphertext, _, err := EncodePortableObject(bytes.NewReader(data), a.block, iv)
	if err != nil {
		return fmt.Errorf("encrypt upload %s: %w", id, err)
	}

	body := make([]byte, 0, len(iv)+len(ciphertext))
	body = append(body, iv...)
	body = append(body, ciphertext...)

	if _, err := a.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.Bucket),
		Key:    aws.String(id),
		Body:   bytes.NewReader(body),
	}); err != nil {
		return fmt.Errorf("put object for upload %s: %w", id, err)
	}

	return nil
}
