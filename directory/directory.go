package directory

import (
	"log"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"futameet/models"
)

// Store is the gorm-backed user directory. The coordinator treats it as an
// external collaborator: lookups only, never session state.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Resolve looks a user up by matric number.
func (s *Store) Resolve(matricNo string) (*models.User, bool) {
	var user models.User
	if err := s.db.Where("matric_no = ?", matricNo).First(&user).Error; err != nil {
		return nil, false
	}
	return &user, true
}

// IsLecturer reports whether the matric number belongs to a lecturer.
func (s *Store) IsLecturer(matricNo string) bool {
	user, ok := s.Resolve(matricNo)
	return ok && user.IsLecturer()
}

// Users returns the full roster.
func (s *Store) Users() ([]models.User, error) {
	var users []models.User
	if err := s.db.Find(&users).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list users")
	}
	return users, nil
}

// Authenticate checks a matric number and password against the directory.
func (s *Store) Authenticate(matricNo, password string) (*models.User, bool) {
	user, ok := s.Resolve(matricNo)
	if !ok {
		return nil, false
	}
	if err := bcrypt.CompareHashAndPassword(user.Password, []byte(password)); err != nil {
		return nil, false
	}
	return user, true
}

// Seed fills an empty directory with the known roster. Existing rows are left
// untouched, so reseeding on every boot is safe.
func (s *Store) Seed() error {
	var count int64
	if err := s.db.Model(&models.User{}).Count(&count).Error; err != nil {
		return errors.Wrap(err, "failed to count users")
	}
	if count > 0 {
		return nil
	}

	password, err := bcrypt.GenerateFromPassword([]byte("futameet"), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "failed to hash seed password")
	}

	users := []models.User{
		{Name: "Intisor", MatricNo: "123456", Role: models.RoleStudent, Department: "Software Engineering", Level: "300"},
		{Name: "Goodluck", MatricNo: "654321", Role: models.RoleStudent, Department: "Software Engineering", Level: "300"},
		{Name: "Victor", MatricNo: "789012", Role: models.RoleStudent, Department: "Software Engineering", Level: "400"},
		{Name: "Umar", MatricNo: "383012", Role: models.RoleStudent, Department: "Mining Engineering", Level: "200"},
		{Name: "Festus", MatricNo: "Lec001", Role: models.RoleLecturer},
		{Name: "Dr. Brown", MatricNo: "Lec002", Role: models.RoleLecturer},
	}
	for i := range users {
		users[i].Password = password
	}
	if err := s.db.Create(&users).Error; err != nil {
		return errors.Wrap(err, "failed to seed users")
	}
	log.Printf("Seeded user directory with %d users", len(users))
	return nil
}
