package library

import (
	"context"
	"fmt"
)

const (
	defaultAdminUsername = "admin"
	defaultAdminPassword = "admin123"
)

type sampleBook struct {
	title, author, isbn, publisher string
	year, copies                   int
}

var sampleCatalog = []sampleBook{
	{"Python Programming for Beginners", "John Smith", "978-1234567890", "Tech Publications", 2022, 3},
	{"Introduction to Java Programming", "Daniel Liang", "978-0136520238", "Pearson", 2021, 2},
	{"C Programming Language", "Brian Kernighan, Dennis Ritchie", "978-0131103627", "Prentice Hall", 1988, 5},
	{"Database Management Systems", "Raghu Ramakrishnan", "978-0072465631", "McGraw-Hill", 2002, 2},
	{"SQL: The Complete Reference", "James Groff", "978-0071592550", "McGraw-Hill", 2010, 3},
	{"Data Structures and Algorithms in Python", "Michael T. Goodrich", "978-1118290279", "Wiley", 2013, 2},
	{"Introduction to Algorithms", "Thomas H. Cormen", "978-0262033848", "MIT Press", 2009, 3},
	{"Computer Networks", "Andrew S. Tanenbaum", "978-0132126953", "Pearson", 2010, 2},
	{"Software Engineering", "Ian Sommerville", "978-0137053469", "Pearson", 2015, 2},
	{"Web Development with Node and Express", "Ethan Brown", "978-1491949306", "O'Reilly Media", 2019, 2},
	{"HTML and CSS: Design and Build Websites", "Jon Duckett", "978-1118008188", "Wiley", 2011, 3},
	{"Operating System Concepts", "Abraham Silberschatz", "978-1118063330", "Wiley", 2012, 2},
	{"Discrete Mathematics and Its Applications", "Kenneth Rosen", "978-0073383095", "McGraw-Hill", 2018, 2},
	{"Calculus: Early Transcendentals", "James Stewart", "978-1285741550", "Cengage Learning", 2015, 2},
	{"Artificial Intelligence: A Modern Approach", "Stuart Russell, Peter Norvig", "978-0136042594", "Pearson", 2020, 2},
}

// BootstrapResult reports what Bootstrap created.
type BootstrapResult struct {
	AdminCreated bool
	BooksAdded   int
}

// Bootstrap creates the default administrator when there are no users and
// stocks the sample catalog when there are no books. It is safe to call on
// every start.
func Bootstrap(ctx context.Context, lm *LibraryManager, sess *Session) (BootstrapResult, error) {
	var res BootstrapResult

	users, err := lm.store.ListUsers(ctx)
	if err != nil {
		return res, fmt.Errorf("bootstrap: list users: %w", err)
	}
	if len(users) == 0 {
		if _, err := sess.Register(ctx, RegisterParams{
			Username: defaultAdminUsername,
			Password: defaultAdminPassword,
			Name:     "Administrator",
			Role:     RoleAdmin,
		}); err != nil {
			return res, fmt.Errorf("bootstrap: create admin: %w", err)
		}
		res.AdminCreated = true
	}

	books, err := lm.store.ListBooks(ctx)
	if err != nil {
		return res, fmt.Errorf("bootstrap: list books: %w", err)
	}
	if len(books) > 0 {
		return res, nil
	}

	system := SystemPrincipal()
	for _, sb := range sampleCatalog {
		year := sb.year
		if _, err := lm.AddBook(ctx, system, NewBook{
			Title:     sb.title,
			Author:    sb.author,
			ISBN:      sb.isbn,
			Publisher: stringPtr(sb.publisher),
			Year:      &year,
			Copies:    sb.copies,
		}); err != nil {
			return res, fmt.Errorf("bootstrap: add %q: %w", sb.title, err)
		}
		res.BooksAdded++
	}
	return res, nil
}
