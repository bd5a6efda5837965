package checkpoint

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPostgresStoreSave(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := NewPostgresStoreWithDB(db)

	mock.ExpectExec("INSERT INTO checkpoints").
		WithArgs("conv_1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Save(context.Background(), "conv_1", sampleState()); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresStoreLoad(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := NewPostgresStoreWithDB(db)

	saved, err := json.Marshal(prepareForSave(sampleState()))
	if err != nil {
		t.Fatal(err)
	}
	mock.ExpectQuery("SELECT state FROM checkpoints").
		WithArgs("conv_1").
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow(saved))

	state, err := store.Load(context.Background(), "conv_1")
	if err != nil {
		t.Fatal(err)
	}
	if state == nil || state.Meta.ConversationID != "conv_1" {
		t.Fatalf("state = %+v", state)
	}
	if len(state.Messages) != 0 {
		t.Error("loaded state should carry no messages")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresStoreLoadAbsent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := NewPostgresStoreWithDB(db)

	mock.ExpectQuery("SELECT state FROM checkpoints").
		WithArgs("conv_missing").
		WillReturnRows(sqlmock.NewRows([]string{"state"}))

	state, err := store.Load(context.Background(), "conv_missing")
	if err != nil {
		t.Fatal(err)
	}
	if state != nil {
		t.Error("absent row should load nil")
	}
}

func TestPostgresWritesLog(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := NewPostgresStoreWithDB(db)

	mock.ExpectExec("INSERT INTO writes_log").
		WithArgs("conv_1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.WritesLog(context.Background(), "conv_1", sampleEvent()); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
