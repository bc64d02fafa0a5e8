package user

import (
	"context"
	"time"
)

// DemoPassword is shared by every account SeedDemo creates.
const DemoPassword = "chuo-demo"

func demoAccounts() []User {
	return []User{
		{ID: "admin", Name: "Registrar", Username: "admin", Email: "admin@chuo.local", Roles: AllRoles},
		{ID: "t001", Name: "Amina Yusuf", Username: "ayusuf", Email: "ayusuf@chuo.local", Department: "Computer Science", Roles: TeacherRoles},
		{ID: "t002", Name: "John Otieno", Username: "jotieno", Email: "jotieno@chuo.local", Department: "Computer Science", Roles: TeacherRoles},
		{ID: "t003", Name: "Grace Wanjiru", Username: "gwanjiru", Email: "gwanjiru@chuo.local", Department: "Mathematics", Roles: TeacherRoles},
		{ID: "s001", Name: "Brian Kamau", Username: "bkamau", Email: "bkamau@chuo.local", Department: "Computer Science", Roles: StudentRoles},
		{ID: "s002", Name: "Faith Njeri", Username: "fnjeri", Email: "fnjeri@chuo.local", Department: "Computer Science", Roles: StudentRoles},
		{ID: "s003", Name: "David Mwangi", Username: "dmwangi", Email: "dmwangi@chuo.local", Department: "Mathematics", Roles: StudentRoles},
	}
}

// SeedDemo provisions demo accounts, matching the demo catalog's teacher
// IDs. Existing accounts are left untouched; created usernames are
// returned.
func SeedDemo(ctx context.Context, repo Repository) ([]string, error) {
	now := time.Now().UTC()
	var created []string
	for _, usr := range demoAccounts() {
		if _, err := repo.GetUserByID(ctx, usr.ID); err == nil {
			continue
		} else if err != ErrNotFound {
			return created, err
		}
		usr.IsActive = true
		usr.CreatedAt = now
		usr.UpdatedAt = now
		if err := usr.SetPassword(DemoPassword); err != nil {
			return created, err
		}
		if _, err := repo.CreateUser(ctx, usr); err != nil {
			return created, err
		}
		created = append(created, usr.Username)
	}
	return created, nil
}
