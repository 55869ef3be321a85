package lockstore

import (
	"testing"

	"github.com/zulandar/warden/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s, err := NewSQLStore(gdb)
	if err != nil {
		t.Fatalf("NewSQLStore: %v", err)
	}
	return s
}

// stores returns every backend so behaviour is checked identically.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": setupSQLStore(t),
	}
}

func TestStore_LockLifecycle(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := s.GetLock("c1", KindTitle); err != nil || ok {
				t.Fatalf("GetLock before set = %v, %v; want not locked", ok, err)
			}
			if err := s.SetLock("c1", KindTitle, "Alpha"); err != nil {
				t.Fatalf("SetLock: %v", err)
			}
			if err := s.SetLock("c1", KindTitle, "Beta"); err != nil {
				t.Fatalf("SetLock overwrite: %v", err)
			}
			v, ok, err := s.GetLock("c1", KindTitle)
			if err != nil || !ok || v != "Beta" {
				t.Errorf("GetLock = %q, %v, %v; want Beta, true", v, ok, err)
			}
			if _, ok, _ := s.GetLock("c1", KindNickname); ok {
				t.Error("nickname should not be locked")
			}
			if _, ok, _ := s.GetLock("c2", KindTitle); ok {
				t.Error("other conversation should not be locked")
			}
			if err := s.ClearLock("c1", KindTitle); err != nil {
				t.Fatalf("ClearLock: %v", err)
			}
			if _, ok, _ := s.GetLock("c1", KindTitle); ok {
				t.Error("lock should be cleared")
			}
			if err := s.ClearLock("c1", KindTitle); err != nil {
				t.Errorf("ClearLock twice: %v", err)
			}
		})
	}
}

func TestStore_EmptyValueIsLocked(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s.SetLock("c1", KindNickname, "")
			if v, ok, _ := s.GetLock("c1", KindNickname); !ok || v != "" {
				t.Errorf("GetLock = %q, %v; want \"\", true", v, ok)
			}
		})
	}
}

func TestStore_RejectsEmptyConversation(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.SetLock("", KindTitle, "x"); err == nil {
				t.Error("expected error for empty conversation ID")
			}
		})
	}
}

func TestStore_Flags(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if on, _ := s.Flag("c1", FlagTitleAutoRemove); on {
				t.Error("flag should default off")
			}
			if err := s.SetFlag("c1", FlagTitleAutoRemove, true); err != nil {
				t.Fatalf("SetFlag: %v", err)
			}
			if on, _ := s.Flag("c1", FlagTitleAutoRemove); !on {
				t.Error("flag should be on")
			}
			if on, _ := s.Flag("c1", FlagNicknameAutoRemove); on {
				t.Error("other flag should be off")
			}
			if err := s.SetFlag("c1", FlagTitleAutoRemove, false); err != nil {
				t.Fatalf("SetFlag off: %v", err)
			}
			if on, _ := s.Flag("c1", FlagTitleAutoRemove); on {
				t.Error("flag should be off again")
			}
		})
	}
}

func TestNewSQLStore_RequiresDB(t *testing.T) {
	if _, err := NewSQLStore(nil); err == nil {
		t.Fatal("expected error for nil db")
	}
}
