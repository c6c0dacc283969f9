package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"

	"textdrop/svc/util"
)

const maxPasswordLength = 1024

// Hasher produces and verifies argon2id hashes for lock passwords. Hashing is
// pushed through a bounded worker pool so a burst of lock requests can't pin
// every CPU at once.
type Hasher struct {
	iterations  uint32
	memory      uint32
	parallelism uint8
	keyLength   uint32
	pepper      []byte
	mu          sync.RWMutex
	jobQueue    chan hashJob
	quit        chan struct{}
	wg          sync.WaitGroup
	started     bool
	startMu     sync.Mutex
	stopOnce    sync.Once
}

type hashJob struct {
	password string
	resp     chan hashResult
}

type hashResult struct {
	hash string
	err  error
}

func NewHasher(time, memory uint32, parallelism uint8, pepper []byte) (*Hasher, error) {
	if len(pepper) < 32 {
		return nil, errors.New("pepper must be at least 32 bytes")
	}
	if time == 0 || time > 100 {
		return nil, errors.New("iterations must be between 1 and 100")
	}
	if memory < 8*1024 || memory > 2*1024*1024 {
		return nil, errors.New("memory must be between 8192 and 2097152 KiB")
	}
	if parallelism == 0 || parallelism > 128 {
		return nil, errors.New("parallelism must be between 1 and 128")
	}
	pepperCopy := make([]byte, len(pepper))
	copy(pepperCopy, pepper)
	return &Hasher{
		iterations:  time,
		memory:      memory,
		parallelism: parallelism,
		keyLength:   32,
		pepper:      pepperCopy,
		jobQueue:    make(chan hashJob, 1024),
		quit:        make(chan struct{}),
	}, nil
}

func (h *Hasher) Start(workers int) error {
	h.startMu.Lock()
	defer h.startMu.Unlock()
	if h.started {
		return errors.New("hasher already started")
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go h.worker()
	}
	h.started = true
	return nil
}

func (h *Hasher) Stop() {
	h.stopOnce.Do(func() {
		close(h.quit)
		close(h.jobQueue)
		h.wg.Wait()
		h.mu.Lock()
		util.Wipe(h.pepper)
		h.mu.Unlock()
	})
}

func (h *Hasher) worker() {
	defer h.wg.Done()
	for {
		select {
		case job, ok := <-h.jobQueue:
			if !ok {
				return
			}
			hash, err := h.doHash(job.password)
			select {
			case job.resp <- hashResult{hash: hash, err: err}:
			case <-h.quit:
				select {
				case job.resp <- hashResult{err: errors.New("shutting down")}:
				default:
				}
				return
			}
		case <-h.quit:
			return
		}
	}
}

func (h *Hasher) Hash(password string) (string, error) {
	h.startMu.Lock()
	started := h.started
	h.startMu.Unlock()
	if !started {
		return "", errors.New("hasher not started - call Start() first")
	}
	if len(password) > maxPasswordLength {
		return "", errors.New("password too long")
	}
	respChan := make(chan hashResult, 1)
	timeout := time.NewTimer(5 * time.Second)
	defer timeout.Stop()
	select {
	case h.jobQueue <- hashJob{password: password, resp: respChan}:
		select {
		case res := <-respChan:
			return res.hash, res.err
		case <-timeout.C:
			return "", errors.New("hash timeout")
		}
	case <-timeout.C:
		return "", errors.New("hash queue full")
	case <-h.quit:
		return "", errors.New("hasher is shutting down")
	}
}

func (h *Hasher) doHash(password string) (string, error) {
	peppered := h.applyPepper(password)
	if peppered == nil {
		return "", errors.New("hasher shutting down")
	}
	defer util.Wipe(peppered)
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey(peppered, salt, h.iterations, h.memory, h.parallelism, h.keyLength)
	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.memory, h.iterations, h.parallelism, b64Salt, b64Hash), nil
}

// Verify compares a candidate password against an encoded hash. It always
// burns a full comparison and holds a minimum response time so a caller can't
// distinguish "bad password" from "malformed hash" by latency.
func (h *Hasher) Verify(pwd, encoded string) (bool, error) {
	startTime := time.Now()
	var match bool
	if len(pwd) > maxPasswordLength {
		dummy := strings.Repeat("x", maxPasswordLength)
		h.verifyInternal(dummy, "")
	} else {
		match = h.verifyInternal(pwd, encoded)
	}
	elapsed := time.Since(startTime)
	minDuration := 350 * time.Millisecond
	if elapsed < minDuration {
		time.Sleep(minDuration - elapsed)
	}
	return match, nil
}

func (h *Hasher) verifyInternal(pwd, encoded string) bool {
	var mem, iters uint32 = h.memory, h.iterations
	var threads uint8 = h.parallelism
	var salt, hash []byte
	valid := true
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		valid = false
		salt = make([]byte, 16)
		hash = make([]byte, 32)
	} else {
		if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iters, &threads); err != nil ||
			mem > 2*1024*1024 || iters > 1000 || threads > 128 {
			valid = false
			mem, iters, threads = h.memory, h.iterations, h.parallelism
			salt = make([]byte, 16)
			hash = make([]byte, 32)
		} else {
			var err error
			salt, err = base64.RawStdEncoding.DecodeString(parts[4])
			if err != nil || len(salt) == 0 {
				valid = false
				salt = make([]byte, 16)
			}
			hash, err = base64.RawStdEncoding.DecodeString(parts[5])
			if err != nil || len(hash) == 0 || len(hash) > 256 {
				valid = false
				hash = make([]byte, 32)
			}
		}
	}
	defer util.Wipe(hash)
	defer util.Wipe(salt)
	peppered := h.applyPepper(pwd)
	defer util.Wipe(peppered)
	otherHash := argon2.IDKey(peppered, salt, iters, mem, threads, uint32(len(hash)))
	defer util.Wipe(otherHash)
	match := subtle.ConstantTimeCompare(hash, otherHash) == 1
	return valid && match
}

func (h *Hasher) applyPepper(password string) []byte {
	h.mu.RLock()
	pepper := h.pepper
	h.mu.RUnlock()
	if len(pepper) == 0 {
		return nil
	}
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(password))
	return mac.Sum(nil)
}
