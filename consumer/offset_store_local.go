package consumer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/twmb/rocketmq-go/primitive"
	"github.com/twmb/rocketmq-go/rerr"
	"github.com/twmb/rocketmq-go/rlog"
)

// localFileOffsetStore persists the offset table to
// ~/.rocketmq_offsets/<ip>@<instance>/<group>/offsets.json.
//
// The persisted form is {"offsetTable": {"topic@brokerName@queueId": n}}
// because JSON object keys must be strings, followed by a trailing
// "checksum" field: a hex blake2b-256 digest of the offsetTable bytes. A
// torn or truncated write is detected on Load rather than silently
// treated as an (incorrect) empty table.
type localFileOffsetStore struct {
	mu    sync.Mutex
	table map[primitive.MessageQueue]int64
	path  string
	log   rlog.Logger
}

type localOffsetFile struct {
	OffsetTable map[string]int64 `json:"offsetTable"`
	Checksum    string           `json:"checksum"`
}

// NewLocalFileOffsetStore constructs a store rooted at
// ~/.rocketmq_offsets/<clientID>/<group>/offsets.json, where clientID is
// typically "<ip>@<instanceName>".
func NewLocalFileOffsetStore(clientID, group string, log rlog.Logger) OffsetStore {
	if log == nil {
		log = rlog.Nop()
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = os.Getenv("HOME")
	}
	dir := filepath.Join(home, ".rocketmq_offsets", clientID, group)
	return &localFileOffsetStore{
		table: make(map[primitive.MessageQueue]int64),
		path:  filepath.Join(dir, "offsets.json"),
		log:   log,
	}
}

func mqKey(mq primitive.MessageQueue) string {
	return fmt.Sprintf("%s@%s@%d", mq.Topic, mq.BrokerName, mq.QueueId)
}

func parseMQKey(key string) (primitive.MessageQueue, bool) {
	parts := strings.Split(key, "@")
	if len(parts) != 3 {
		return primitive.MessageQueue{}, false
	}
	qid, err := strconv.Atoi(parts[2])
	if err != nil {
		return primitive.MessageQueue{}, false
	}
	return primitive.MessageQueue{Topic: parts[0], BrokerName: parts[1], QueueId: int32(qid)}, true
}

func checksumOf(offsetTable map[string]int64) (string, error) {
	b, err := json.Marshal(offsetTable)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(b)
	return fmt.Sprintf("%x", sum), nil
}

func (s *localFileOffsetStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *localFileOffsetStore) loadLocked() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil // nothing persisted yet; start with an empty table
	}
	if err != nil {
		return rerr.Fatal(err, "read local offset file %s", s.path)
	}
	if len(data) == 0 {
		return nil
	}

	var file localOffsetFile
	if err := json.Unmarshal(data, &file); err != nil {
		return rerr.Fatal(err, "decode local offset file %s", s.path)
	}
	wantSum, err := checksumOf(file.OffsetTable)
	if err != nil {
		return rerr.Fatal(err, "checksum local offset file %s", s.path)
	}
	if file.Checksum != "" && wantSum != file.Checksum {
		return rerr.Fatal(nil, "local offset file %s failed checksum verification (torn write?)", s.path)
	}

	table := make(map[primitive.MessageQueue]int64, len(file.OffsetTable))
	for k, v := range file.OffsetTable {
		mq, ok := parseMQKey(k)
		if !ok {
			s.log.Log(rlog.LevelWarn, "skipping unparseable offset key", "key", k)
			continue
		}
		table[mq] = v
	}
	s.table = table
	return nil
}

func (s *localFileOffsetStore) UpdateOffset(mq primitive.MessageQueue, offset int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset < 0 {
		return
	}
	s.table[mq] = offset
}

func (s *localFileOffsetStore) ReadOffset(mq primitive.MessageQueue, mode ReadOffsetMode) int64 {
	switch mode {
	case ReadFromMemory, ReadMemoryThenStore:
		s.mu.Lock()
		offset, ok := s.table[mq]
		s.mu.Unlock()
		if ok {
			return offset
		}
		if mode == ReadFromMemory {
			return OffsetNotFound
		}
		fallthrough
	case ReadFromStore:
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.loadLocked(); err != nil {
			s.log.Log(rlog.LevelError, "reload local offset file failed", "err", err)
			return OffsetNotFound
		}
		if offset, ok := s.table[mq]; ok {
			return offset
		}
		return OffsetNotFound
	}
	return OffsetNotFound
}

func (s *localFileOffsetStore) Persist(mq primitive.MessageQueue) {
	s.PersistAll([]primitive.MessageQueue{mq})
}

func (s *localFileOffsetStore) PersistAll(mqs []primitive.MessageQueue) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offsetTable := make(map[string]int64, len(s.table))
	for mq, offset := range s.table {
		offsetTable[mqKey(mq)] = offset
	}
	sum, err := checksumOf(offsetTable)
	if err != nil {
		s.log.Log(rlog.LevelError, "checksum local offsets failed", "err", err)
		return
	}
	data, err := json.MarshalIndent(localOffsetFile{OffsetTable: offsetTable, Checksum: sum}, "", "  ")
	if err != nil {
		s.log.Log(rlog.LevelError, "marshal local offsets failed", "err", err)
		return
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.log.Log(rlog.LevelError, "mkdir local offset dir failed", "err", err)
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.log.Log(rlog.LevelError, "write local offset file failed", "err", err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.log.Log(rlog.LevelError, "rename local offset file failed", "err", err)
	}
}

func (s *localFileOffsetStore) RemoveOffset(mq primitive.MessageQueue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.table, mq)
}
